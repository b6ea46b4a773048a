package bandit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArmStore_GetOrCreate(t *testing.T) {
	s := NewArmStore(3)

	arm, created := s.GetOrCreate("alice")
	require.True(t, created)
	assert.Equal(t, "alice", arm.ID())

	again, created := s.GetOrCreate("alice")
	assert.False(t, created)
	assert.Same(t, arm, again)
	assert.Equal(t, 1, s.Len())

	_, ok := s.Get("bob")
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len(), "Get must not create")
}

func TestArmStore_ConcurrentFirstSightingCreatesOneArm(t *testing.T) {
	s := NewArmStore(2)

	const workers = 32
	arms := make([]*Arm, workers)
	var createdCount int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			arm, created := s.GetOrCreate("shared")
			arms[i] = arm
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, createdCount)
	for _, arm := range arms {
		assert.Same(t, arms[0], arm)
	}
}

func TestArmStore_IDsSorted(t *testing.T) {
	s := NewArmStore(2)
	for _, id := range []string{"c", "a", "b"} {
		s.GetOrCreate(id)
	}
	assert.Equal(t, []string{"a", "b", "c"}, s.IDs())

	seen := 0
	s.Range(func(string, *Arm) bool {
		seen++
		return true
	})
	assert.Equal(t, 3, seen)
}

func TestArmStore_SnapshotRoundTrip(t *testing.T) {
	s := NewArmStore(2)
	arm, _ := s.GetOrCreate("a")
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	arm.update([]float64{1, 2}, 0.5, at)
	s.GetOrCreate("b")

	snap := s.Snapshot("v-test")
	require.NoError(t, snap.Validate(2))
	assert.Equal(t, "v-test", snap.ModelVersion)
	require.Len(t, snap.Arms, 2)

	st := snap.Arms["a"]
	assert.Equal(t, [][]float64{{2, 2}, {2, 5}}, st.A)
	assert.Equal(t, []float64{0.5, 1}, st.B)
	assert.Equal(t, uint64(1), st.Updates)
	assert.Equal(t, at, st.UpdatedAt)

	restored := armStoreFromSnapshot(snap)
	assert.Equal(t, []string{"a", "b"}, restored.IDs())
	got, ok := restored.Get("a")
	require.True(t, ok)
	assert.Equal(t, st, got.state())
}

func TestArmStore_SnapshotIsDeepCopy(t *testing.T) {
	s := NewArmStore(2)
	arm, _ := s.GetOrCreate("a")
	snap := s.Snapshot("")

	arm.update([]float64{1, 1}, 1, time.Now())
	assert.Equal(t, [][]float64{{1, 0}, {0, 1}}, snap.Arms["a"].A)
	assert.Equal(t, []float64{0, 0}, snap.Arms["a"].B)
}

func BenchmarkArmStore_GetOrCreate(b *testing.B) {
	s := NewArmStore(6)
	ids := make([]string, 64)
	for i := range ids {
		ids[i] = fmt.Sprintf("arm-%d", i)
	}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			s.GetOrCreate(ids[i%len(ids)])
			i++
		}
	})
}
