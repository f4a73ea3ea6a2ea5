package endpoint

// Codec is the serialize/deserialize pair that lets endpoints act as keys in
// stores that compare on a canonical string form. Decode(Encode(e)) yields a
// value equal to e, but never the same instance that was encoded.
type Codec struct{}

// Encode canonicalizes an endpoint to its string key.
func (Codec) Encode(e Endpoint) string {
	return e.String()
}

// Decode reconstructs an endpoint from its string key.
func (Codec) Decode(key string) (Endpoint, error) {
	return Parse(key)
}
