package telemetry

// Attributes carries the key/value pairs attached to a span.
type Attributes map[string]any

func (a Attributes) cloneWithExtra(extra int) Attributes {
	size := len(a) + extra
	if size <= 0 {
		return Attributes{}
	}

	cloned := make(Attributes, size)
	for k, v := range a {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the attribute map.
func (a Attributes) Clone() Attributes {
	return a.cloneWithExtra(0)
}

// With returns a cloned attribute map containing the provided key/value pair.
func (a Attributes) With(key string, value any) Attributes {
	cloned := a.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// WithAll returns a cloned attribute map containing the supplied entries.
func (a Attributes) WithAll(entries Attributes) Attributes {
	cloned := a.cloneWithExtra(len(entries))
	for k, v := range entries {
		cloned[k] = v
	}
	return cloned
}

// New constructs an attribute map from alternating key/value pairs. Keys must
// be strings; a trailing key without a value is dropped.
func New(pairs ...any) Attributes {
	attrs := make(Attributes, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			continue
		}
		attrs[key] = pairs[i+1]
	}
	return attrs
}
