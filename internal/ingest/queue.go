package ingest

import (
	"container/heap"
	"sync"

	"github.com/cun0/batch-ingest/internal/domain"
)

// BatchRef is what the queue holds for a pending batch.
type BatchRef struct {
	BatchID  string
	Priority domain.Priority
	Seq      uint64
}

func (r BatchRef) less(o BatchRef) bool {
	if r.Priority != o.Priority {
		return r.Priority < o.Priority
	}
	return r.Seq < o.Seq
}

// refHeap is a min-heap on (Priority, Seq).
type refHeap []BatchRef

func (h refHeap) Len() int           { return len(h) }
func (h refHeap) Less(i, j int) bool { return h[i].less(h[j]) }
func (h refHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *refHeap) Push(x any) { *h = append(*h, x.(BatchRef)) }

func (h *refHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Queue holds pending batches ordered by priority, then enqueue sequence.
// One mutex covers sequence assignment and removal so that the tie-break
// never observes a half-assigned sequence.
type Queue struct {
	mu      sync.Mutex
	items   refHeap
	pending map[string]struct{}
	nextSeq uint64
}

func NewQueue() *Queue {
	return &Queue{
		pending: make(map[string]struct{}),
		nextSeq: 1,
	}
}

// Reserve hands out n consecutive sequence numbers and returns the first.
func (q *Queue) Reserve(n int) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	first := q.nextSeq
	if n > 0 {
		q.nextSeq += uint64(n)
	}
	return first
}

// Push enqueues refs. A zero Seq gets the next sequence number; a batch that
// is already pending is left where it is.
func (q *Queue) Push(refs ...BatchRef) []BatchRef {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]BatchRef, 0, len(refs))
	for _, r := range refs {
		if _, ok := q.pending[r.BatchID]; ok {
			continue
		}
		if r.Seq == 0 {
			r.Seq = q.nextSeq
			q.nextSeq++
		} else if r.Seq >= q.nextSeq {
			q.nextSeq = r.Seq + 1
		}
		q.pending[r.BatchID] = struct{}{}
		heap.Push(&q.items, r)
		out = append(out, r)
	}
	return out
}

// Pop removes the next batch to dispatch. It never blocks.
func (q *Queue) Pop() (BatchRef, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return BatchRef{}, false
	}
	r := heap.Pop(&q.items).(BatchRef)
	delete(q.pending, r.BatchID)
	return r, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) LenByPriority() map[domain.Priority]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make(map[domain.Priority]int, len(domain.Priorities))
	for _, p := range domain.Priorities {
		out[p] = 0
	}
	for _, r := range q.items {
		out[r.Priority]++
	}
	return out
}
