package bandit

import (
	"math"
	"sync"
	"time"

	"github.com/fyrsmithlabs/velocity/internal/checkpoint"
	"gonum.org/v1/gonum/mat"
)

// Arm is the learned linear model of one candidate.
type Arm struct {
	mu        sync.RWMutex
	id        string
	a         *mat.SymDense
	b         *mat.VecDense
	updates   uint64
	updatedAt time.Time
}

// newArm returns an arm with the uninformed prior A = I, b = 0.
func newArm(id string, n int) *Arm {
	return &Arm{
		id: id,
		a:  identity(n),
		b:  mat.NewVecDense(n, nil),
	}
}

// ID returns the arm identifier.
func (a *Arm) ID() string { return a.id }

// params returns copies of A and b taken under the read lock.
func (a *Arm) params() (*mat.SymDense, *mat.VecDense) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	n := a.b.Len()
	am := mat.NewSymDense(n, nil)
	am.CopySym(a.a)
	return am, mat.VecDenseCopyOf(a.b)
}

// update applies A += xxᵀ and b += r·x.
func (a *Arm) update(x []float64, reward float64, now time.Time) {
	xv := mat.NewVecDense(len(x), append([]float64(nil), x...))

	a.mu.Lock()
	defer a.mu.Unlock()

	a.a.SymRankOne(a.a, 1, xv)
	a.b.AddScaledVec(a.b, reward, xv)
	a.updates++
	a.updatedAt = now
}

// state returns the persisted form of the arm.
func (a *Arm) state() checkpoint.ArmState {
	a.mu.RLock()
	defer a.mu.RUnlock()

	n := a.b.Len()
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, n)
		for j := range rows[i] {
			rows[i][j] = a.a.At(i, j)
		}
	}
	b := make([]float64, n)
	copy(b, a.b.RawVector().Data)

	return checkpoint.ArmState{
		A:         rows,
		B:         b,
		Updates:   a.updates,
		UpdatedAt: a.updatedAt,
	}
}

// stats returns the learning counters.
func (a *Arm) stats() (uint64, time.Time) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.updates, a.updatedAt
}

// armFromState rebuilds an arm from a validated snapshot entry. Validation
// rejects asymmetric A, so reading the upper triangle is exact.
func armFromState(id string, st checkpoint.ArmState) *Arm {
	n := len(st.B)
	a := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			a.SetSym(i, j, st.A[i][j])
		}
	}
	return &Arm{
		id:        id,
		a:         a,
		b:         mat.NewVecDense(n, append([]float64(nil), st.B...)),
		updates:   st.Updates,
		updatedAt: st.UpdatedAt,
	}
}

// estimate holds the LinUCB terms for one arm and context.
type estimate struct {
	mean        float64
	uncertainty float64
	degenerate  bool
}

// estimate computes θ·x and α·√(xᵀA⁻¹x) from a consistent copy of the
// arm parameters.
func (a *Arm) estimate(x []float64, alpha float64) estimate {
	am, b := a.params()
	inv, degenerate := inverse(am)

	var theta mat.VecDense
	theta.MulVec(inv, b)

	xv := mat.NewVecDense(len(x), x)
	quad := mat.Inner(xv, inv, xv)

	return estimate{
		mean:        mat.Dot(&theta, xv),
		uncertainty: alpha * math.Sqrt(math.Max(0, quad)),
		degenerate:  degenerate,
	}
}

// theta returns A⁻¹b.
func (a *Arm) theta() []float64 {
	am, b := a.params()
	inv, _ := inverse(am)

	var theta mat.VecDense
	theta.MulVec(inv, b)
	out := make([]float64, theta.Len())
	for i := range out {
		out[i] = theta.AtVec(i)
	}
	return out
}
