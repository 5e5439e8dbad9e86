package kernel

import (
	"container/heap"

	"github.com/citygrid/sentinel/pkg/models"
)

// pending is one queued action plus its dispatch bookkeeping. The done
// channel is buffered so completing an abandoned action never blocks the
// kernel.
type pending struct {
	action   *models.OrchestrationAction
	seq      uint64
	attempts int
	done     chan *models.OrchestrationResult
	index    int
}

// actionQueue is a priority heap: lower priority number first, FIFO within a
// priority band via the monotonic sequence number.
type actionQueue []*pending

func (q actionQueue) Len() int { return len(q) }

func (q actionQueue) Less(i, j int) bool {
	if q[i].action.Priority != q[j].action.Priority {
		return q[i].action.Priority < q[j].action.Priority
	}

	return q[i].seq < q[j].seq
}

func (q actionQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *actionQueue) Push(x any) {
	item := x.(*pending)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *actionQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]

	return item
}

// worst returns the queued item that would be shed first under overload: the
// numerically highest priority, most recently enqueued. Nil when empty.
func (q actionQueue) worst() *pending {
	var worst *pending

	for _, item := range q {
		if worst == nil ||
			item.action.Priority > worst.action.Priority ||
			(item.action.Priority == worst.action.Priority && item.seq > worst.seq) {
			worst = item
		}
	}

	return worst
}

// removeMatching pops out every queued item the predicate selects.
func (q *actionQueue) removeMatching(match func(*pending) bool) []*pending {
	var removed []*pending

	kept := (*q)[:0]

	for _, item := range *q {
		if match(item) {
			removed = append(removed, item)
		} else {
			kept = append(kept, item)
		}
	}

	for i := len(kept); i < len(*q); i++ {
		(*q)[i] = nil
	}

	*q = kept
	heap.Init(q)

	return removed
}
