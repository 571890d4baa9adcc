package queue

import (
	"fmt"
	"sync"
	"testing"

	"github.com/raphaelgruber/reelqueue/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func project(id string, p models.Priority) *models.Project {
	return models.NewProject(id, "client", "/src/"+id, "", p, nil)
}

func popIDs(t *testing.T, q *Priority) []string {
	t.Helper()
	var ids []string
	for {
		p, ok := q.TryPop()
		if !ok {
			return ids
		}
		ids = append(ids, p.ID)
	}
}

// Raw enum values put LOW (1) ahead of URGENT (4) in a min-heap. These tests
// guard the inverted key in both enqueue orders.
func TestUrgentBeforeLow(t *testing.T) {
	t.Run("low enqueued first", func(t *testing.T) {
		q := New()
		q.Push(project("low", models.PriorityLow))
		q.Push(project("urgent", models.PriorityUrgent))
		assert.Equal(t, []string{"urgent", "low"}, popIDs(t, q))
	})

	t.Run("urgent enqueued first", func(t *testing.T) {
		q := New()
		q.Push(project("urgent", models.PriorityUrgent))
		q.Push(project("low", models.PriorityLow))
		assert.Equal(t, []string{"urgent", "low"}, popIDs(t, q))
	})
}

func TestPriorityThenFIFO(t *testing.T) {
	q := New()
	q.Push(project("m1", models.PriorityMedium))
	q.Push(project("l1", models.PriorityLow))
	q.Push(project("h1", models.PriorityHigh))
	q.Push(project("m2", models.PriorityMedium))
	q.Push(project("u1", models.PriorityUrgent))
	q.Push(project("l2", models.PriorityLow))
	q.Push(project("h2", models.PriorityHigh))

	assert.Equal(t, []string{"u1", "h1", "h2", "m1", "m2", "l1", "l2"}, popIDs(t, q))
}

func TestTryPopEmpty(t *testing.T) {
	q := New()
	p, ok := q.TryPop()
	assert.False(t, ok)
	assert.Nil(t, p)
	assert.Zero(t, q.Len())
}

func TestDrain(t *testing.T) {
	q := New()
	q.Push(project("a", models.PriorityLow))
	q.Push(project("b", models.PriorityHigh))

	drained := q.Drain()
	require.Len(t, drained, 2)
	assert.Equal(t, "b", drained[0].ID)
	assert.Equal(t, "a", drained[1].ID)
	assert.Zero(t, q.Len())
}

func TestConcurrentPushPop(t *testing.T) {
	q := New()
	const producers, perProducer = 8, 50

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				q.Push(project(fmt.Sprintf("p%d-%d", i, j), models.Priority(j%4+1)))
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, producers*perProducer, q.Len())

	seen := make(map[string]bool)
	var popMu sync.Mutex
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				p, ok := q.TryPop()
				if !ok {
					return
				}
				popMu.Lock()
				seen[p.ID] = true
				popMu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, producers*perProducer)
}
