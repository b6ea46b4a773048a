package bandit

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// maxCondition is the largest condition number for which the Cholesky
// inverse is trusted. Beyond it the pseudo-inverse is used instead.
const maxCondition = 1e12

// inverse returns A⁻¹ for a symmetric matrix. A built by the update rule
// is positive definite, so Cholesky normally succeeds. When it fails or
// A is ill-conditioned, the Moore-Penrose pseudo-inverse is returned and
// degenerate is true.
func inverse(a *mat.SymDense) (inv mat.Matrix, degenerate bool) {
	var chol mat.Cholesky
	if chol.Factorize(a) && chol.Cond() <= maxCondition {
		var out mat.SymDense
		if err := chol.InverseTo(&out); err == nil {
			return &out, false
		}
	}
	return pseudoInverse(a), true
}

// pseudoInverse computes V·Σ⁺·Uᵀ. Singular values at or below
// max(rows, cols)·σmax·eps are treated as zero. If the SVD itself fails
// (non-finite input) the zero matrix is returned.
func pseudoInverse(a mat.Matrix) *mat.Dense {
	r, c := a.Dims()

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return mat.NewDense(c, r, nil)
	}
	values := svd.Values(nil)

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	tol := 0.0
	if len(values) > 0 {
		tol = float64(max(r, c)) * values[0] * epsilon64
	}

	// Scale column j of V by 1/σj (or zero it).
	vr, _ := v.Dims()
	for j, s := range values {
		scale := 0.0
		if s > tol {
			scale = 1 / s
		}
		for i := 0; i < vr; i++ {
			v.Set(i, j, v.At(i, j)*scale)
		}
	}

	var out mat.Dense
	out.Mul(&v, u.T())
	return &out
}

// epsilon64 is the float64 machine epsilon, 2⁻⁵².
var epsilon64 = math.Nextafter(1, 2) - 1

// identity returns the n×n identity matrix.
func identity(n int) *mat.SymDense {
	a := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		a.SetSym(i, i, 1)
	}
	return a
}
