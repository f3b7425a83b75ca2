package oracle

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var ErrInvalidVerdict = errors.New("invalid verdict")

// Verdict is the classifier's structured answer for one page.
type Verdict struct {
	IsReceipt         bool            `json:"is_receipt"`
	HasStamp          bool            `json:"has_stamp"`
	StampDetails      string          `json:"detected_stamp_details"`
	InclusionKeywords []string        `json:"found_inclusion_keywords,omitempty"`
	ExclusionKeywords []string        `json:"found_exclusion_keywords,omitempty"`
	DocumentData      json.RawMessage `json:"document_data,omitempty"`
}

// DocumentDataText returns the free-form payload as compact JSON, "{}" when absent.
func (v Verdict) DocumentDataText() string {
	trimmed := bytes.TrimSpace(v.DocumentData)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return "{}"
	}
	return buf.String()
}

const verdictSchemaJSON = `{
  "type": "object",
  "properties": {
    "is_receipt": {"type": "boolean"},
    "has_stamp": {"type": "boolean"},
    "detected_stamp_details": {"type": "string"},
    "found_inclusion_keywords": {"type": "array", "items": {"type": "string"}},
    "found_exclusion_keywords": {"type": "array", "items": {"type": "string"}}
  }
}`

var verdictSchema = jsonschema.MustCompileString("verdict.json", verdictSchemaJSON)

var (
	boolFields    = []string{"is_receipt", "has_stamp"}
	keywordFields = []string{"found_inclusion_keywords", "found_exclusion_keywords"}
)

// DecodeVerdict parses the model's JSON answer. Documents that fail the schema
// are coerced once (string booleans, scalar keyword lists, nulls) and
// validated again before being rejected.
func DecodeVerdict(content string) (Verdict, error) {
	raw := []byte(stripFences(content))

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Verdict{}, fmt.Errorf("%w: not json: %v", ErrInvalidVerdict, err)
	}
	if err := verdictSchema.Validate(doc); err != nil {
		obj, ok := doc.(map[string]any)
		if !ok {
			return Verdict{}, fmt.Errorf("%w: %v", ErrInvalidVerdict, err)
		}
		sanitize(obj)
		if vErr := verdictSchema.Validate(obj); vErr != nil {
			return Verdict{}, fmt.Errorf("%w: %v", ErrInvalidVerdict, vErr)
		}
		if raw, err = json.Marshal(obj); err != nil {
			return Verdict{}, fmt.Errorf("%w: %v", ErrInvalidVerdict, err)
		}
	}

	var v Verdict
	if err := json.Unmarshal(raw, &v); err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrInvalidVerdict, err)
	}
	return v, nil
}

func sanitize(m map[string]any) {
	for _, k := range boolFields {
		val, ok := m[k]
		if !ok {
			continue
		}
		if b, ok := coerceBool(val); ok {
			m[k] = b
		} else {
			delete(m, k)
		}
	}

	switch t := m["detected_stamp_details"].(type) {
	case nil:
		delete(m, "detected_stamp_details")
	case string:
	case float64, bool:
		m["detected_stamp_details"] = fmt.Sprint(t)
	default:
		b, _ := json.Marshal(t)
		m["detected_stamp_details"] = string(b)
	}

	for _, k := range keywordFields {
		switch t := m[k].(type) {
		case nil:
			delete(m, k)
		case string:
			m[k] = []any{t}
		case []any:
			out := make([]any, 0, len(t))
			for _, item := range t {
				if item == nil {
					continue
				}
				out = append(out, fmt.Sprint(item))
			}
			m[k] = out
		default:
			delete(m, k)
		}
	}
}

func coerceBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case float64:
		return t != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "y", "1":
			return true, true
		case "false", "no", "n", "0", "":
			return false, true
		}
	}
	return false, false
}

// stripFences removes a surrounding ``` or ```json block some models add
// despite being asked for bare JSON.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
