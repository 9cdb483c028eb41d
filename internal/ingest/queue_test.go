package ingest

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/cun0/batch-ingest/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(q *Queue) []BatchRef {
	var out []BatchRef
	for {
		r, ok := q.Pop()
		if !ok {
			return out
		}
		out = append(out, r)
	}
}

func TestQueuePopEmpty(t *testing.T) {
	q := NewQueue()
	_, ok := q.Pop()
	assert.False(t, ok)
	assert.Equal(t, 0, q.Len())
}

func TestQueueHigherPriorityFirst(t *testing.T) {
	q := NewQueue()
	q.Push(
		BatchRef{BatchID: "low-1", Priority: domain.PriorityLow},
		BatchRef{BatchID: "low-2", Priority: domain.PriorityLow},
	)
	q.Push(BatchRef{BatchID: "high-1", Priority: domain.PriorityHigh})
	q.Push(BatchRef{BatchID: "medium-1", Priority: domain.PriorityMedium})

	var ids []string
	for _, r := range drain(q) {
		ids = append(ids, r.BatchID)
	}
	assert.Equal(t, []string{"high-1", "medium-1", "low-1", "low-2"}, ids)
}

// Random interleavings of pushes and pops always yield priority order, and
// FIFO order inside a tier.
func TestQueueOrderingRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		q := NewQueue()
		pushedAt := map[string]int{}
		var popped []BatchRef
		n := 0

		for step := 0; step < 200; step++ {
			if rng.Intn(3) == 0 {
				if r, ok := q.Pop(); ok {
					popped = append(popped, r)
				}
				continue
			}
			id := fmt.Sprintf("b%d", n)
			pushedAt[id] = n
			n++
			q.Push(BatchRef{BatchID: id, Priority: domain.Priorities[rng.Intn(len(domain.Priorities))]})
		}

		rest := drain(q)
		require.Len(t, append(popped, rest...), n, "every batch comes out exactly once")

		for i := 1; i < len(rest); i++ {
			prev, cur := rest[i-1], rest[i]
			require.True(t, prev.Priority <= cur.Priority, "round %d: %v before %v", round, prev, cur)
			if prev.Priority == cur.Priority {
				require.Less(t, pushedAt[prev.BatchID], pushedAt[cur.BatchID])
			}
		}
	}
}

func TestQueueIgnoresPendingDuplicate(t *testing.T) {
	q := NewQueue()
	first := q.Push(BatchRef{BatchID: "a", Priority: domain.PriorityLow})
	again := q.Push(BatchRef{BatchID: "a", Priority: domain.PriorityHigh})

	require.Len(t, first, 1)
	assert.Empty(t, again)
	assert.Equal(t, 1, q.Len())

	r, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, domain.PriorityLow, r.Priority)

	// Once popped it may be pushed again.
	assert.Len(t, q.Push(BatchRef{BatchID: "a", Priority: domain.PriorityLow}), 1)
}

func TestQueueReserveAndExplicitSeq(t *testing.T) {
	q := NewQueue()

	first := q.Reserve(3)
	assert.Equal(t, uint64(1), first)
	assert.Equal(t, uint64(4), q.Reserve(0))

	pushed := q.Push(
		BatchRef{BatchID: "c", Priority: domain.PriorityMedium, Seq: first + 2},
		BatchRef{BatchID: "a", Priority: domain.PriorityMedium, Seq: first},
	)
	require.Len(t, pushed, 2)

	auto := q.Push(BatchRef{BatchID: "z", Priority: domain.PriorityMedium})
	require.Len(t, auto, 1)
	assert.Equal(t, uint64(4), auto[0].Seq)

	// A recovered seq ahead of the counter moves it forward.
	q.Push(BatchRef{BatchID: "far", Priority: domain.PriorityLow, Seq: 100})
	assert.Equal(t, uint64(101), q.Reserve(1))

	var ids []string
	for _, r := range drain(q) {
		ids = append(ids, r.BatchID)
	}
	assert.Equal(t, []string{"a", "c", "z", "far"}, ids)
}

func TestQueueLenByPriority(t *testing.T) {
	q := NewQueue()
	q.Push(
		BatchRef{BatchID: "1", Priority: domain.PriorityLow},
		BatchRef{BatchID: "2", Priority: domain.PriorityLow},
		BatchRef{BatchID: "3", Priority: domain.PriorityHigh},
	)

	assert.Equal(t, map[domain.Priority]int{
		domain.PriorityHigh:   1,
		domain.PriorityMedium: 0,
		domain.PriorityLow:    2,
	}, q.LenByPriority())
}

func TestQueueConcurrentNoDoublePop(t *testing.T) {
	q := NewQueue()
	const total = 1000
	for i := 0; i < total; i++ {
		q.Push(BatchRef{BatchID: fmt.Sprintf("b%d", i), Priority: domain.Priorities[i%3]})
	}

	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				r, ok := q.Pop()
				if !ok {
					return
				}
				mu.Lock()
				seen[r.BatchID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, total)
	for id, n := range seen {
		require.Equal(t, 1, n, id)
	}
}
