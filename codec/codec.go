// Package codec provides pluggable value (de)serialization for stampede
// caches. Pick one codec per cache instance; entries written with one codec
// are not readable with another.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
