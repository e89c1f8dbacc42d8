package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var rePeriod = regexp.MustCompile(`^\d{4}-\d{2}(-\d{2}\.\.\d{4}-\d{2}-\d{2})?$`)

// ExtractJSONObject strips markdown fences and surrounding prose, returning
// the first balanced top-level JSON object. Models wrap JSON in ```json
// fences often enough that treating it as a hard failure wastes retries.
func ExtractJSONObject(raw []byte) ([]byte, error) {
	s := bytes.TrimSpace(raw)
	if i := bytes.Index(s, []byte("```")); i >= 0 {
		s = s[i+3:]
		s = bytes.TrimPrefix(s, []byte("json"))
		if j := bytes.Index(s, []byte("```")); j >= 0 {
			s = s[:j]
		}
		s = bytes.TrimSpace(s)
	}
	start := bytes.IndexByte(s, '{')
	if start < 0 {
		return nil, fmt.Errorf("no JSON object in response")
	}
	depth := 0
	inStr := false
	esc := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case esc:
			esc = false
		case inStr && c == '\\':
			esc = true
		case c == '"':
			inStr = !inStr
		case !inStr && c == '{':
			depth++
		case !inStr && c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return nil, fmt.Errorf("unbalanced JSON object in response")
}

// SanitizeBoundaries removes or normalizes hint fields that don't meet the
// stricter schema so the overall document can still validate:
//   - coerces float page numbers to integers
//   - drops hints missing a page range or with start > end
//   - clamps confidence into [0,1]
//   - drops empty optionals, malformed periods and unknown keys
func SanitizeBoundaries(doc []byte) ([]byte, []string, error) {
	var m map[string]any
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, nil, err
	}
	var dropped []string

	arr, ok := m["boundaries"].([]any)
	if !ok {
		// Some models return a bare array; accept it.
		if a, isArr := anyArray(m); isArr {
			arr = a
		} else {
			return nil, nil, fmt.Errorf("boundaries missing")
		}
	}

	clean := make([]any, 0, len(arr))
	for i, it := range arr {
		h, ok := it.(map[string]any)
		if !ok {
			dropped = append(dropped, fmt.Sprintf("boundaries[%d](type)", i))
			continue
		}
		out := map[string]any{}
		sp, spOK := coerceInt(h["start_page"])
		ep, epOK := coerceInt(h["end_page"])
		if !spOK || !epOK || sp < 1 || ep < sp {
			dropped = append(dropped, fmt.Sprintf("boundaries[%d](range)", i))
			continue
		}
		out["start_page"] = sp
		out["end_page"] = ep
		if c, ok := coerceFloat(h["confidence"]); ok {
			if c < 0 {
				c = 0
			}
			if c > 1 {
				c = 1
			}
			out["confidence"] = c
		}
		for _, k := range []string{"bank", "account", "period"} {
			if v, ok := h[k].(string); ok {
				s := strings.TrimSpace(v)
				if s == "" {
					dropped = append(dropped, fmt.Sprintf("boundaries[%d].%s(empty)", i, k))
					continue
				}
				if k == "period" && !rePeriod.MatchString(s) {
					dropped = append(dropped, fmt.Sprintf("boundaries[%d].period(format)", i))
					continue
				}
				out[k] = s
			}
		}
		clean = append(clean, out)
	}

	b, err := json.Marshal(map[string]any{"boundaries": clean})
	if err != nil {
		return nil, dropped, err
	}
	return b, dropped, nil
}

// SanitizeMetadataFields removes or normalizes metadata fields that don't
// meet the schema. Only optionals exist here, so nothing is fatal short of
// undecodable JSON.
func SanitizeMetadataFields(doc []byte) ([]byte, []string, error) {
	var m map[string]any
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, nil, err
	}
	var dropped []string
	out := map[string]any{}

	for _, k := range []string{"bank", "account", "period"} {
		switch v := m[k].(type) {
		case string:
			s := strings.TrimSpace(v)
			if s == "" || strings.EqualFold(s, "null") || strings.EqualFold(s, "unknown") {
				dropped = append(dropped, k)
				continue
			}
			if k == "period" && !rePeriod.MatchString(s) {
				dropped = append(dropped, k+"(format)")
				continue
			}
			out[k] = s
		case nil:
			// absent or explicit null: omit either way
		default:
			dropped = append(dropped, k+"(type)")
		}
	}
	if c, ok := coerceFloat(m["confidence"]); ok {
		if c < 0 {
			c = 0
		}
		if c > 1 {
			c = 1
		}
		out["confidence"] = c
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, dropped, err
	}
	return b, dropped, nil
}

func coerceInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	case string:
		var n int
		if _, err := fmt.Sscanf(strings.TrimSpace(t), "%d", &n); err == nil {
			return n, true
		}
	}
	return 0, false
}

func coerceFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	}
	return 0, false
}

func anyArray(m map[string]any) ([]any, bool) {
	if len(m) != 1 {
		return nil, false
	}
	for _, v := range m {
		if a, ok := v.([]any); ok {
			return a, true
		}
	}
	return nil, false
}
