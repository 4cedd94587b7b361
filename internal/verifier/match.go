package verifier

import (
	"encoding/json"
	"strconv"
	"strings"
)

// MatchValue recursively matches two decoded JSON values with flexible rules:
//
//   - expected "*" matches any actual value
//   - expected "" matches only the empty string
//   - expected "~x" matches any string containing x
//   - any other expected string matches the stringified actual value
//   - expected objects match when every key/value matches in the actual object
//   - expected arrays match when every element is found somewhere in the
//     actual array (order-agnostic)
//   - actual strings holding serialized JSON are parsed and matched recursively
func MatchValue(actual, expected any) bool {
	if isPrimitive(expected) {
		if isPrimitive(actual) {
			if es, ok := expected.(string); ok {
				switch {
				case es == "*":
					return true
				case es == "":
					as, ok := actual.(string)
					return ok && as == ""
				case len(es) > 1 && es[0] == '~':
					as, ok := actual.(string)
					return ok && strings.Contains(as, es[1:])
				default:
					return stringify(actual) == es
				}
			}
			return actual == expected
		}
		// actual may be a container while expected is primitive: no match,
		// except via the embedded-JSON case below
		if as, ok := actual.(string); ok {
			var parsed any
			if err := json.Unmarshal([]byte(as), &parsed); err != nil {
				return false
			}
			return MatchValue(parsed, expected)
		}
		return false
	}

	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			if as, isStr := actual.(string); isStr {
				var parsed any
				if err := json.Unmarshal([]byte(as), &parsed); err != nil {
					return false
				}
				return MatchValue(parsed, expected)
			}
			return false
		}
		for k, ev := range exp {
			av, present := act[k]
			if !present || !MatchValue(av, ev) {
				return false
			}
		}
		return true
	case []any:
		act, ok := actual.([]any)
		if !ok {
			if as, isStr := actual.(string); isStr {
				var parsed any
				if err := json.Unmarshal([]byte(as), &parsed); err != nil {
					return false
				}
				return MatchValue(parsed, expected)
			}
			return false
		}
		for _, ev := range exp {
			found := false
			for _, av := range act {
				if MatchValue(av, ev) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	}
	return false
}

// FindKeyValue performs a depth-first search of a decoded JSON tree for any
// key whose value matches expected under MatchValue rules.
func FindKeyValue(tree any, key string, expected any) bool {
	switch node := tree.(type) {
	case map[string]any:
		for k, v := range node {
			if k == key && MatchValue(v, expected) {
				return true
			}
			if FindKeyValue(v, key, expected) {
				return true
			}
		}
	case []any:
		for _, v := range node {
			if FindKeyValue(v, key, expected) {
				return true
			}
		}
	case string:
		// strings holding serialized JSON are searched recursively
		var parsed any
		if err := json.Unmarshal([]byte(node), &parsed); err != nil {
			return false
		}
		switch parsed.(type) {
		case map[string]any, []any:
			return FindKeyValue(parsed, key, expected)
		}
	}
	return false
}

// ContainsSubset reports whether a decoded event payload contains every
// key/value pair of subset, wherever the pair lives in the tree. When the
// payload has a dedicated "data" node (optionally under "event"), that node is
// searched first; pairs may match in different branches.
func ContainsSubset(payload json.RawMessage, subset map[string]any) bool {
	var body any
	if err := json.Unmarshal(payload, &body); err != nil {
		return false
	}
	var dataNode any
	if obj, ok := body.(map[string]any); ok {
		if ev, ok := obj["event"].(map[string]any); ok {
			if d, ok := ev["data"]; ok {
				dataNode = d
			}
		}
		if dataNode == nil {
			if d, ok := obj["data"]; ok {
				dataNode = d
			}
		}
	}
	for k, v := range subset {
		found := false
		if dataNode != nil {
			found = FindKeyValue(dataNode, k, v)
		}
		if !found {
			found = FindKeyValue(body, k, v)
		}
		if !found {
			return false
		}
	}
	return true
}

func isPrimitive(v any) bool {
	switch v.(type) {
	case nil, string, bool, float64, int, int64:
		return true
	}
	return false
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		b, _ := json.Marshal(t)
		return string(b)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case nil:
		return "null"
	}
	b, _ := json.Marshal(v)
	return string(b)
}
