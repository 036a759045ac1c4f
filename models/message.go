package models

import (
	"strconv"
	"time"
)

// Source tags used across the pipeline.
const (
	SourceTelegram = "telegram"
	SourceTwitter  = "twitter"
)

// Sentiment labels. LabelNoData only ever appears on synthetic gap rows.
const (
	LabelNegative = "negative"
	LabelNeutral  = "neutral"
	LabelPositive = "positive"
	LabelNoData   = "no_data"
)

// Origin identifies one addressable text source: a channel username or a
// numeric chat id.
type Origin struct {
	Name string
	ID   int64
	IsID bool
}

// NamedOrigin builds an origin from a username or query name.
func NamedOrigin(name string) Origin { return Origin{Name: name} }

// NumericOrigin builds an origin from a numeric chat id.
func NumericOrigin(id int64) Origin { return Origin{ID: id, IsID: true} }

func (o Origin) String() string {
	if o.IsID {
		return strconv.FormatInt(o.ID, 10)
	}
	return o.Name
}

// RawMessage is one fetched unit of text.
type RawMessage struct {
	Source    string    `json:"source"`
	Origin    string    `json:"origin"`
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

// Key returns the dedup key (origin, id).
func (m RawMessage) Key() MessageKey {
	return MessageKey{Origin: m.Origin, ID: m.ID}
}

// MessageKey is unique per message within a fetch.
type MessageKey struct {
	Origin string
	ID     int64
}

// ScoredRecord is a RawMessage annotated with sentiment.
type ScoredRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Text      string    `json:"text"`
	Compound  float64   `json:"compound"`
	NormScore float64   `json:"norm_score"`
	Label     string    `json:"label"`
}
