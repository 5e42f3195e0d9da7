package negotiation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var numberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// lookup walks dotted paths ("sla_rules.delayPenalty") and returns the first
// present value.
func lookup(m map[string]any, paths ...string) (any, bool) {
	for _, path := range paths {
		var cur any = m
		found := true
		for _, part := range strings.Split(path, ".") {
			obj, ok := cur.(map[string]any)
			if !ok {
				found = false
				break
			}
			if cur, ok = obj[part]; !ok || cur == nil {
				found = false
				break
			}
		}
		if found {
			return cur, true
		}
	}
	return nil, false
}

func lookupString(m map[string]any, paths ...string) string {
	v, ok := lookup(m, paths...)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// lookupNumber accepts JSON numbers and numeric strings such as "$25,000".
// For ranges like "10000-25000" it returns the upper bound.
func lookupNumber(m map[string]any, paths ...string) (float64, bool) {
	for _, path := range paths {
		v, ok := lookup(m, path)
		if !ok {
			continue
		}
		if n, ok := toNumber(v); ok {
			return n, true
		}
	}
	return 0, false
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		matches := numberPattern.FindAllString(strings.ReplaceAll(t, ",", ""), -1)
		if len(matches) == 0 {
			return 0, false
		}
		f, err := strconv.ParseFloat(matches[len(matches)-1], 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func lookupBool(m map[string]any, paths ...string) bool {
	v, ok := lookup(m, paths...)
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	default:
		return false
	}
}

// merge overlays persisted on top of supplied; persisted wins on collisions.
// NULL columns are not values and never mask a supplied field.
func merge(supplied, persisted map[string]any) map[string]any {
	out := make(map[string]any, len(supplied)+len(persisted))
	for k, v := range supplied {
		out[k] = v
	}
	for k, v := range persisted {
		if v == nil {
			continue
		}
		out[k] = v
	}
	return out
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
