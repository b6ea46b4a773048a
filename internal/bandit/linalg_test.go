package bandit

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestInverse_PositiveDefinite(t *testing.T) {
	a := mat.NewSymDense(2, []float64{
		2, 0,
		0, 4,
	})

	inv, degenerate := inverse(a)
	assert.False(t, degenerate)
	assert.InDelta(t, 0.5, inv.At(0, 0), 1e-12)
	assert.InDelta(t, 0.25, inv.At(1, 1), 1e-12)
	assert.InDelta(t, 0, inv.At(0, 1), 1e-12)
}

func TestInverse_SingularFallsBackToPseudoInverse(t *testing.T) {
	// Rank one: [[1,1],[1,1]]. The pseudo-inverse is [[.25,.25],[.25,.25]].
	a := mat.NewSymDense(2, []float64{
		1, 1,
		1, 1,
	})

	inv, degenerate := inverse(a)
	assert.True(t, degenerate)
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			assert.InDelta(t, 0.25, inv.At(i, j), 1e-9)
		}
	}
}

func TestInverse_ZeroMatrix(t *testing.T) {
	inv, degenerate := inverse(mat.NewSymDense(3, nil))
	assert.True(t, degenerate)
	r, c := inv.Dims()
	require.Equal(t, 3, r)
	require.Equal(t, 3, c)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			assert.Equal(t, 0.0, inv.At(i, j))
		}
	}
}

func TestInverse_IllConditioned(t *testing.T) {
	a := mat.NewSymDense(2, []float64{
		1e14, 0,
		0, 1,
	})

	inv, degenerate := inverse(a)
	assert.True(t, degenerate, "condition number above limit must use pseudo-inverse")
	assert.InDelta(t, 1e-14, inv.At(0, 0), 1e-20)
	assert.InDelta(t, 1, inv.At(1, 1), 1e-9)
}

func TestPseudoInverse_MoorePenroseIdentity(t *testing.T) {
	// A·A⁺·A = A for a rank-deficient 3×3.
	a := mat.NewDense(3, 3, []float64{
		1, 2, 3,
		2, 4, 6,
		1, 0, 1,
	})
	pinv := pseudoInverse(a)

	var tmp, back mat.Dense
	tmp.Mul(a, pinv)
	back.Mul(&tmp, a)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			assert.InDelta(t, a.At(i, j), back.At(i, j), 1e-9)
		}
	}
}

func TestIdentity(t *testing.T) {
	a := identity(4)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			assert.Equal(t, want, a.At(i, j))
		}
	}
}

func TestEpsilon64(t *testing.T) {
	assert.Equal(t, math.Pow(2, -52), epsilon64)
}
