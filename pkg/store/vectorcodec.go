package store

import (
	"encoding/binary"
	"math"
)

// encodeFloat32s packs a float32 slice as little-endian bytes for
// storage in content_vectors.embedding_raw. This is a plain byte
// encoding controlled entirely by this package, independent of the
// vec0 extension's own on-disk vector format, so the searcher's
// embedding-rerank stage can read a candidate's vector back without
// going through a MATCH query.
func encodeFloat32s(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeFloat32s(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
