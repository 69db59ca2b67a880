package extract

import "encoding/json"

// parseJSONObject decodes s as a single JSON object with arbitrary
// value types, tolerating the Reasoner emitting the JSON object with
// surrounding prose by taking the substring between the first "{" and
// the last "}".
func parseJSONObject(s string) (map[string]any, bool) {
	start := -1
	end := -1
	for i, c := range s {
		if c == '{' && start == -1 {
			start = i
		}
		if c == '}' {
			end = i
		}
	}
	if start == -1 || end == -1 || end < start {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s[start:end+1]), &obj); err != nil {
		return nil, false
	}
	return obj, true
}
