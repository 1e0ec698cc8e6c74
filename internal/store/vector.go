package store

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// serializeEmbedding converts a float32 slice to the little-endian blob
// sqlite-vec expects.
func serializeEmbedding(embedding []float32) []byte {
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func deserializeEmbedding(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(blob))
	}
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out, nil
}

// innerProductDistance maps a dot product onto "smaller is better".
func innerProductDistance(a, b []float32) float64 {
	var dot float64
	for i := range a {
		if i >= len(b) {
			break
		}
		dot += float64(a[i]) * float64(b[i])
	}
	return 1 - dot
}

type scored struct {
	result   Result
	distance float64
}

// rankScored sorts candidates by ascending distance and keeps the best k.
func rankScored(cands []scored, k int, withDistance bool) []Result {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].distance < cands[j].distance
	})
	if len(cands) > k {
		cands = cands[:k]
	}
	out := make([]Result, len(cands))
	for i, c := range cands {
		out[i] = c.result
		if withDistance {
			d := c.distance
			out[i].Distance = &d
		}
	}
	return out
}
