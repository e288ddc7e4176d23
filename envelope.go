package collabd

// Envelope is a typed message unit exchanged over the connection: a mapping
// from string keys to values with at minimum a "type" field selecting the
// handler. Payload fields beyond "type" are schema-light and validated by the
// handler that consumes them.
type Envelope map[string]any

// Type returns the message type tag, or "" when absent.
func (e Envelope) Type() string {
	return e.String("type")
}

// String returns the value under key when it is a string, or "".
func (e Envelope) String(key string) string {
	if v, ok := e[key].(string); ok {
		return v
	}
	return ""
}

// Int returns the value under key as an int. JSON numbers decode as float64,
// so both forms are accepted.
func (e Envelope) Int(key string) (int, bool) {
	switch v := e[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

// Bool returns the value under key when it is a bool.
func (e Envelope) Bool(key string) bool {
	v, _ := e[key].(bool)
	return v
}

// Map returns the value under key when it is a nested object.
func (e Envelope) Map(key string) map[string]any {
	v, _ := e[key].(map[string]any)
	return v
}

// Clone returns a shallow copy. Middleware stages that transform an envelope
// should clone first so earlier stages' views stay intact.
func (e Envelope) Clone() Envelope {
	out := make(Envelope, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}
