package coordinator

import (
	"container/heap"

	"feeder/internal/bundle"
)

// outbound is the priority queue of bundles waiting to be taken.
type outbound struct {
	items []*bundle.Bundle
	less  bundle.Less
}

func newOutbound(less bundle.Less) *outbound {
	return &outbound{less: less}
}

func (q *outbound) Len() int           { return len(q.items) }
func (q *outbound) Less(i, j int) bool { return q.less(q.items[i], q.items[j]) }
func (q *outbound) Swap(i, j int)      { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *outbound) Push(x any) { q.items = append(q.items, x.(*bundle.Bundle)) } //nolint:forcetypeassert

func (q *outbound) Pop() any {
	old := q.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	q.items = old[:n-1]
	return item
}

func (q *outbound) push(b *bundle.Bundle) { heap.Push(q, b) }

// pop returns the best bundle or nil.
func (q *outbound) pop() *bundle.Bundle {
	if len(q.items) == 0 {
		return nil
	}
	return heap.Pop(q).(*bundle.Bundle) //nolint:forcetypeassert
}
