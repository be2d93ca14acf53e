package command

// Params is the uniform bag a handler receives: the request's options with
// the selector merged in under "selector".
type Params map[string]any

func (p Params) String(key, fallback string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func (p Params) Bool(key string) bool {
	v, _ := p[key].(bool)
	return v
}

// Float reads a numeric option. JSON numbers decode as float64; integers
// set programmatically are accepted too.
func (p Params) Float(key string, fallback float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return fallback
	}
}

func (p Params) StringMap(key string) map[string]string {
	out := map[string]string{}
	raw, ok := p[key].(map[string]any)
	if !ok {
		return out
	}
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
