package writer

import (
	"context"
	"encoding/json"
	"fmt"

	kafka "github.com/segmentio/kafka-go"

	"sentiflow/config"
	"sentiflow/logger"
	"sentiflow/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DailyPublisher sends daily sentiment rows to a Kafka topic, one message per
// row keyed by source and date.
type DailyPublisher struct {
	writer messageWriter
	topic  string
	log    *logger.Log
}

// dailyEvent is the JSON payload of a published row.
type dailyEvent struct {
	RunID     string  `json:"run_id"`
	Date      string  `json:"date"`
	Source    string  `json:"source"`
	AvgScore  float64 `json:"avg_score"`
	Count     int     `json:"count"`
	Label     string  `json:"label"`
	Synthetic bool    `json:"synthetic"`
}

func NewDailyPublisher(cfg config.KafkaConfig) (*DailyPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	p := &DailyPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Topic:    cfg.Topic,
			Balancer: &kafka.Hash{},
		},
		topic: cfg.Topic,
		log:   logger.GetLogger(),
	}
	p.log.WithComponent("kafka_publisher").WithFields(logger.Fields{
		"brokers": cfg.Brokers,
		"topic":   cfg.Topic,
	}).Debug("kafka publisher initialized")
	return p, nil
}

// MessageKey is the partitioning key of a row.
func MessageKey(d models.DailySentiment) string {
	return d.Source + "|" + models.DayStart(d.Date).Format("2006-01-02")
}

// Publish writes all rows in a single batch.
func (p *DailyPublisher) Publish(ctx context.Context, runID string, rows []models.DailySentiment) error {
	if len(rows) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(rows))
	for _, r := range rows {
		data, err := json.Marshal(dailyEvent{
			RunID:     runID,
			Date:      models.DayStart(r.Date).Format("2006-01-02"),
			Source:    r.Source,
			AvgScore:  r.AvgScore,
			Count:     r.Count,
			Label:     r.Label,
			Synthetic: r.IsSynthetic(),
		})
		if err != nil {
			return fmt.Errorf("marshal daily row: %w", err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(MessageKey(r)), Value: data})
	}

	log := p.log.WithComponent("kafka_publisher").WithFields(logger.Fields{
		"topic":    p.topic,
		"messages": len(msgs),
		"run_id":   runID,
	})
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		log.WithError(err).Warn("failed to publish daily rows")
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	log.Info("daily rows published")
	return nil
}

func (p *DailyPublisher) Close() error {
	return p.writer.Close()
}
