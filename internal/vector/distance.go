package vector

import "math"

// InnerProduct returns the dot product of two vectors, or 0 when lengths differ.
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// CosineDistance returns 1 - cos(a, b) in [0, 2].
// Two zero vectors are at distance 0; a zero vector is at distance 1 from anything else.
func CosineDistance(a, b []float32) float32 {
	return cosineDistance(a, b, L2Norm(a), L2Norm(b))
}

func cosineDistance(a, b []float32, normA, normB float64) float32 {
	if normA == 0 && normB == 0 {
		return 0
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	d := 1 - InnerProduct(a, b)/(normA*normB)
	return float32(math.Max(0, math.Min(2, d)))
}
