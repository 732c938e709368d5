package evict

import "container/heap"

type lfuEntry struct {
	key    string
	weight uint64
	freq   uint64
	tick   uint64 // insertion/touch order, tiebreaker for equal frequency
	index  int
}

// lfuHeap is a min-heap ordered by (freq, tick) so the least-frequently
// (and, on ties, least-recently) used entry surfaces first.
type lfuHeap []*lfuEntry

func (h lfuHeap) Len() int { return len(h) }
func (h lfuHeap) Less(i, j int) bool {
	if h[i].freq != h[j].freq {
		return h[i].freq < h[j].freq
	}
	return h[i].tick < h[j].tick
}
func (h lfuHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *lfuHeap) Push(x any) {
	e := x.(*lfuEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *lfuHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// lfuPolicy evicts the least-frequently-used entry first, breaking ties
// by recency. Frequency counters are never decayed; for the embedded
// single-cache-instance workloads this library targets that tradeoff is
// acceptable, and avoiding decay keeps Touch O(log n) with no background
// timer.
type lfuPolicy struct {
	capacity uint64
	size     uint64
	clock    uint64
	h        lfuHeap
	index    map[string]*lfuEntry
}

func newLFU(capacity uint64) *lfuPolicy {
	return &lfuPolicy{
		capacity: capacity,
		index:    make(map[string]*lfuEntry),
	}
}

func (p *lfuPolicy) Add(key string, weight uint64) []Victim {
	p.clock++
	if e, ok := p.index[key]; ok {
		p.size -= e.weight
		e.weight = weight
		e.freq++
		e.tick = p.clock
		p.size += weight
		heap.Fix(&p.h, e.index)
	} else {
		e := &lfuEntry{key: key, weight: weight, freq: 1, tick: p.clock}
		p.index[key] = e
		heap.Push(&p.h, e)
		p.size += weight
	}
	return p.evict()
}

func (p *lfuPolicy) evict() []Victim {
	var victims []Victim
	if p.capacity == 0 {
		return victims
	}
	for p.size > p.capacity && p.h.Len() > 0 {
		e := heap.Pop(&p.h).(*lfuEntry)
		delete(p.index, e.key)
		p.size -= e.weight
		victims = append(victims, Victim{Key: e.key, Reason: ReasonCapacity})
	}
	return victims
}

func (p *lfuPolicy) Touch(key string) {
	if e, ok := p.index[key]; ok {
		p.clock++
		e.freq++
		e.tick = p.clock
		heap.Fix(&p.h, e.index)
	}
}

func (p *lfuPolicy) Remove(key string) {
	if e, ok := p.index[key]; ok {
		heap.Remove(&p.h, e.index)
		delete(p.index, key)
		p.size -= e.weight
	}
}

func (p *lfuPolicy) SetCapacity(bytes uint64) {
	p.capacity = bytes
}

func (p *lfuPolicy) Len() int {
	return len(p.index)
}
