package embedding

import "github.com/stritefax/heelixchat/internal/vector"

// unitLength scales v in place to length 1 as measured by the index. A zero vector is left
// unchanged.
func unitLength(v []float32) {
	n := vector.L2Norm(v)
	if n == 0 {
		return
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / n)
	}
}
