// Package scheduler holds the pure planning structures behind the
// scheduler loop: per-job schedule evaluation and the fire queue ordered
// by next fire time. No I/O and no ambient clock; callers pass now.
package scheduler

import (
	"container/heap"
	"errors"
	"time"

	"github.com/jobmill/jobmill/internal/domain/jobdef"
	"github.com/jobmill/jobmill/internal/domain/model"
	"github.com/jobmill/jobmill/internal/domain/trigger"
)

// ErrNotScheduled marks a job without a future fire: no schedule block, or
// a once-schedule already in the past. Such jobs stay out of the queue
// without being an evaluation failure.
var ErrNotScheduled = errors.New("job has no future fire")

// Entry is one planned job in the fire queue.
type Entry struct {
	JobID   string
	JobName string
	FireAt  time.Time

	trig trigger.Trigger
}

// BuildEntry evaluates one job's schedule into a queue entry. A parse or
// compile failure is an error (the job is left out until re-evaluated);
// ErrNotScheduled means the job simply has nothing to fire.
func BuildEntry(job *model.Job, now time.Time) (*Entry, error) {
	doc, err := jobdef.Parse(job.YAML)
	if err != nil {
		return nil, err
	}
	if doc.Schedule == nil {
		return nil, ErrNotScheduled
	}
	trig, err := trigger.Compile(doc.Schedule)
	if err != nil {
		return nil, err
	}
	next, ok := trig.Next(now)
	if !ok {
		return nil, ErrNotScheduled
	}
	return &Entry{
		JobID:   job.ID,
		JobName: job.Name,
		FireAt:  next,
		trig:    trig,
	}, nil
}

// Reschedule advances the entry to its next occurrence strictly after now.
// False means the schedule is exhausted and the entry should be dropped.
func (e *Entry) Reschedule(now time.Time) bool {
	next, ok := e.trig.Next(now)
	if !ok {
		return false
	}
	e.FireAt = next
	return true
}

// FireQueue is a min-heap of entries keyed by fire time, with the job id
// as a deterministic tie-break. Not safe for concurrent use; the loop
// owns it.
type FireQueue struct {
	h entryHeap
}

// NewFireQueue returns an empty queue.
func NewFireQueue() *FireQueue {
	q := &FireQueue{}
	heap.Init(&q.h)
	return q
}

// Len returns the number of planned entries.
func (q *FireQueue) Len() int { return q.h.Len() }

// Push adds an entry.
func (q *FireQueue) Push(e *Entry) { heap.Push(&q.h, e) }

// Pop removes and returns the earliest entry, nil when empty.
func (q *FireQueue) Pop() *Entry {
	if q.h.Len() == 0 {
		return nil
	}
	return heap.Pop(&q.h).(*Entry)
}

// Peek returns the earliest entry without removing it, nil when empty.
func (q *FireQueue) Peek() *Entry {
	if q.h.Len() == 0 {
		return nil
	}
	return q.h[0]
}

type entryHeap []*Entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].FireAt.Equal(h[j].FireAt) {
		return h[i].JobID < h[j].JobID
	}
	return h[i].FireAt.Before(h[j].FireAt)
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(*Entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
