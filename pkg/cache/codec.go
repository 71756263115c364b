package cache

import "encoding/json"

// Codec converts cached values to and from the bytes the store persists.
// One codec is chosen per cache instance.
type Codec[V any] interface {
	Encode(v V) ([]byte, error)
	Decode(data []byte) (V, error)
}

// JSONCodec encodes values with encoding/json
type JSONCodec[V any] struct{}

// Encode marshals v
func (JSONCodec[V]) Encode(v V) ([]byte, error) {
	return json.Marshal(v)
}

// Decode unmarshals data into a fresh V
func (JSONCodec[V]) Decode(data []byte) (V, error) {
	var v V
	err := json.Unmarshal(data, &v)
	return v, err
}
