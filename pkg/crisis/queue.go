package crisis

import "fmt"

// forIteration is a pending iteration of a for loop. It binds the loop
// variable and schedules its body followed by the next iteration.
type forIteration struct {
	loop  *ForLoop
	index int
}

func (f *forIteration) Line() int { return f.loop.line }

func (f *forIteration) String() string {
	return fmt.Sprintf("%s [%d/%d]", f.loop, f.index+1, f.loop.Count)
}

// WorkQueue holds the statements still to run. The front of the queue is
// the end of the slice so that expansion in place is an append.
type WorkQueue struct {
	items []Statement
}

// NewWorkQueue returns a queue that runs stmts in order.
func NewWorkQueue(stmts []Statement) *WorkQueue {
	q := &WorkQueue{}
	q.PushFront(stmts...)
	return q
}

// PushFront inserts stmts before everything queued, keeping their order.
func (q *WorkQueue) PushFront(stmts ...Statement) {
	for i := len(stmts) - 1; i >= 0; i-- {
		q.items = append(q.items, stmts[i])
	}
}

// Pop removes and returns the front statement.
func (q *WorkQueue) Pop() (Statement, bool) {
	n := len(q.items)
	if n == 0 {
		return nil, false
	}
	s := q.items[n-1]
	q.items[n-1] = nil
	q.items = q.items[:n-1]
	return s, true
}

func (q *WorkQueue) Len() int { return len(q.items) }

func (q *WorkQueue) Clear() {
	clear(q.items)
	q.items = q.items[:0]
}

// Peek returns up to n statements from the front.
func (q *WorkQueue) Peek(n int) []Statement {
	if n > len(q.items) {
		n = len(q.items)
	}
	out := make([]Statement, 0, n)
	for i := len(q.items) - 1; i >= len(q.items)-n; i-- {
		out = append(out, q.items[i])
	}
	return out
}

// previewSize is the number of queued statements shown in status updates.
const previewSize = 5

// Preview describes the front of the queue, with a trailing
// "... +N more" entry when it is longer than the preview.
func (q *WorkQueue) Preview() []string {
	front := q.Peek(previewSize)
	out := make([]string, 0, len(front)+1)
	for _, s := range front {
		out = append(out, s.String())
	}
	if extra := q.Len() - previewSize; extra > 0 {
		out = append(out, fmt.Sprintf("... +%d more", extra))
	}
	return out
}
