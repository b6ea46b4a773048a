package bandit

import (
	"sort"

	"github.com/fyrsmithlabs/velocity/internal/checkpoint"
	"github.com/puzpuzpuz/xsync/v4"
)

// ArmStore maps arm ids to models. Arms are created on first sight and
// never evicted.
type ArmStore struct {
	dim  int
	arms *xsync.Map[string, *Arm]
}

// NewArmStore returns an empty store of n-dimensional arms.
func NewArmStore(n int) *ArmStore {
	return &ArmStore{
		dim:  n,
		arms: xsync.NewMap[string, *Arm](),
	}
}

// Dimension returns the feature dimension of every arm.
func (s *ArmStore) Dimension() int { return s.dim }

// GetOrCreate returns the arm for id, inserting a fresh prior if absent.
// Concurrent first sightings of the same id observe a single arm.
func (s *ArmStore) GetOrCreate(id string) (arm *Arm, created bool) {
	if arm, ok := s.arms.Load(id); ok {
		return arm, false
	}
	arm, loaded := s.arms.LoadOrStore(id, newArm(id, s.dim))
	return arm, !loaded
}

// Get returns the arm for id without creating it.
func (s *ArmStore) Get(id string) (*Arm, bool) {
	return s.arms.Load(id)
}

// Len returns the number of arms.
func (s *ArmStore) Len() int {
	return s.arms.Size()
}

// IDs returns all arm ids in ascending order.
func (s *ArmStore) IDs() []string {
	ids := make([]string, 0, s.arms.Size())
	s.arms.Range(func(id string, _ *Arm) bool {
		ids = append(ids, id)
		return true
	})
	sort.Strings(ids)
	return ids
}

// Range calls f for every arm until f returns false. Order is unspecified.
func (s *ArmStore) Range(f func(id string, arm *Arm) bool) {
	s.arms.Range(f)
}

// Snapshot copies every arm, each under its own read lock.
func (s *ArmStore) Snapshot(modelVersion string) *checkpoint.Snapshot {
	snap := checkpoint.NewSnapshot(s.dim, modelVersion)
	s.arms.Range(func(id string, arm *Arm) bool {
		snap.Arms[id] = arm.state()
		return true
	})
	return snap
}

// armStoreFromSnapshot builds a store from a snapshot already validated
// against the dimension.
func armStoreFromSnapshot(snap *checkpoint.Snapshot) *ArmStore {
	s := NewArmStore(snap.Dimension)
	for id, st := range snap.Arms {
		s.arms.Store(id, armFromState(id, st))
	}
	return s
}
