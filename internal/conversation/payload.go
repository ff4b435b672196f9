package conversation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// NormalizePayload returns p in the form it takes after a snapshot round
// trip: integral numbers as int64, other numbers as float64, lists as
// []any and nested objects as map[string]any. Values JSON cannot carry
// are stringified.
func NormalizePayload(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case nil, string, bool, int64:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case uint32:
		return int64(x)
	case float32:
		return normalizeFloat(float64(x))
	case float64:
		return normalizeFloat(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, err := x.Float64()
		if err != nil {
			return x.String()
		}
		return normalizeFloat(f)
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalizeValue(e)
		}
		return out
	case map[string]any:
		return NormalizePayload(x)
	default:
		return fmt.Sprint(x)
	}
}

// normalizeFloat turns integral values into int64, which is how JSON
// encodes and decodes them.
func normalizeFloat(f float64) any {
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 && !math.IsInf(f, 0) {
		return int64(f)
	}
	return f
}

// UnmarshalJSON decodes c, keeping integral payload numbers as int64.
func (c *Candidate) UnmarshalJSON(data []byte) error {
	type plain Candidate
	var aux struct {
		plain
		Payload json.RawMessage `json:"payload,omitempty"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*c = Candidate(aux.plain)
	c.Payload = nil
	if len(aux.Payload) == 0 || bytes.Equal(aux.Payload, []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(aux.Payload))
	dec.UseNumber()
	var p map[string]any
	if err := dec.Decode(&p); err != nil {
		return fmt.Errorf("decoding payload of %s: %w", c.ID, err)
	}
	c.Payload = NormalizePayload(p)
	return nil
}
