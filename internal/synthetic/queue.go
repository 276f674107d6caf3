package synthetic

import (
	"container/heap"

	"github.com/chrisdamba/roadtraffic/internal/models"
)

// passageHeap orders generated passages by detection time.
type passageHeap []models.RawRecord

func (h passageHeap) Len() int { return len(h) }
func (h passageHeap) Less(i, j int) bool {
	if h[i].TotalTime != h[j].TotalTime {
		return h[i].TotalTime < h[j].TotalTime
	}
	return h[i].Lane < h[j].Lane
}
func (h passageHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *passageHeap) Push(x any) {
	*h = append(*h, x.(models.RawRecord))
}

func (h *passageHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// arrivals collects the passages of a day and releases them in time order.
type arrivals struct {
	h passageHeap
}

func (a *arrivals) add(r models.RawRecord) {
	heap.Push(&a.h, r)
}

// drain empties the queue, filling in the headway to the previous vehicle
// of the same lane.
func (a *arrivals) drain() []models.RawRecord {
	out := make([]models.RawRecord, 0, len(a.h))
	last := map[int]int{}
	for a.h.Len() > 0 {
		r := heap.Pop(&a.h).(models.RawRecord)
		if prev, ok := last[r.Lane]; ok {
			r.TimeInterval = r.TotalTime - prev
		}
		last[r.Lane] = r.TotalTime
		out = append(out, r)
	}
	return out
}
