package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"sentiflow/models"
)

// OriginList is a list of Telegram origins. In YAML it may be written as a
// sequence or as a single string using the ParseOrigins grammar.
type OriginList []models.Origin

var numericOrigin = regexp.MustCompile(`^-?\d+$`)

// ParseOrigins parses an origin list. Accepted forms:
//
//	""  or  "NONE"            empty list
//	["@a", -100123]           JSON array of strings and integers
//	@a, 'b', "-100123"        comma separated, quotes stripped
//
// Everything after a '#' is a comment. Tokens matching -?\d+ become numeric
// ids. Duplicates are dropped, first occurrence wins.
func ParseOrigins(raw string) (OriginList, error) {
	s := raw
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "NONE") {
		return nil, nil
	}

	if strings.HasPrefix(s, "[") {
		if !strings.HasSuffix(s, "]") {
			return nil, fmt.Errorf("unterminated origin array %q", s)
		}
		return parseJSONOrigins(s)
	}

	var out OriginList
	for _, part := range strings.Split(s, ",") {
		tok := strings.Trim(strings.TrimSpace(part), `"'`)
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		out = append(out, originFromToken(tok))
	}
	return out.dedup(), nil
}

func parseJSONOrigins(s string) (OriginList, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var items []interface{}
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("invalid origin array: %w", err)
	}

	out := make(OriginList, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case json.Number:
			id, err := strconv.ParseInt(v.String(), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("origin id %s is not an integer", v)
			}
			out = append(out, models.NumericOrigin(id))
		case string:
			tok := strings.TrimSpace(v)
			if tok != "" {
				out = append(out, models.NamedOrigin(tok))
			}
		default:
			return nil, fmt.Errorf("unsupported origin value %v", item)
		}
	}
	return out.dedup(), nil
}

func originFromToken(tok string) models.Origin {
	if numericOrigin.MatchString(tok) {
		if id, err := strconv.ParseInt(tok, 10, 64); err == nil {
			return models.NumericOrigin(id)
		}
	}
	return models.NamedOrigin(tok)
}

func (l OriginList) dedup() OriginList {
	if len(l) == 0 {
		return l
	}
	seen := make(map[string]struct{}, len(l))
	out := make(OriginList, 0, len(l))
	for _, o := range l {
		key := o.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, o)
	}
	return out
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *OriginList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		parsed, err := ParseOrigins(value.Value)
		if err != nil {
			return err
		}
		*l = parsed
		return nil
	case yaml.SequenceNode:
		out := make(OriginList, 0, len(value.Content))
		for _, item := range value.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: origin must be a scalar", item.Line)
			}
			tok := strings.TrimSpace(item.Value)
			if tok == "" {
				continue
			}
			out = append(out, originFromToken(tok))
		}
		*l = out.dedup()
		return nil
	default:
		return fmt.Errorf("line %d: origins must be a string or a list", value.Line)
	}
}
