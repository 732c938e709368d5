package evict

// arcPolicy is a CLOCK-Pro-derived adaptive policy: a clock ring whose
// entries carry hot/cold/test state bits, with a hand-sweep eviction
// loop and ghost (test) entries tuning the hot/cold partition. It only
// tracks string keys and byte weights; the hot tier owns values and is
// told which key to drop.
type arcPolicy struct {
	capacity uint64
	size     uint64 // sum of weights for hot+cold entries only (test/ghost entries are weightless)

	head  *arcNode
	index map[string]*arcNode
}

type arcState uint8

const (
	arcCold arcState = 0b00
	arcHot  arcState = 0b01
	arcTest arcState = 0b10 // ghost: metadata only, already evicted
	arcRef  arcState = 0b10000000
)

type arcNode struct {
	next, prev *arcNode
	key        string
	weight     uint64
	state      arcState
}

func newARC(capacity uint64) *arcPolicy {
	return &arcPolicy{
		capacity: capacity,
		index:    make(map[string]*arcNode),
	}
}

func (p *arcPolicy) append(n *arcNode) {
	if p.head == nil {
		n.next, n.prev = n, n
		p.head = n
		return
	}
	tail := p.head.prev
	tail.next = n
	n.prev = tail
	n.next = p.head
	p.head.prev = n
}

func (p *arcPolicy) unlink(n *arcNode) {
	if n.next == n {
		p.head = nil
	} else {
		n.prev.next = n.next
		n.next.prev = n.prev
		if p.head == n {
			p.head = n.next
		}
	}
}

// Add inserts key as a cold, referenced entry — or, if key was a ghost
// (arcTest) from a prior eviction, promotes it straight to hot, the
// usual ARC "was it recently evicted" signal — and then runs the clock
// hand until the resident set is back under budget.
func (p *arcPolicy) Add(key string, weight uint64) []Victim {
	if n, ok := p.index[key]; ok {
		if n.state&0b11 == arcTest {
			n.weight = weight
			n.state = arcHot | arcRef
			p.size += weight
		} else {
			p.size += weight - n.weight
			n.weight = weight
			n.state |= arcRef
		}
		return p.evict()
	}

	n := &arcNode{key: key, weight: weight, state: arcCold | arcRef}
	p.append(n)
	p.index[key] = n
	p.size += weight
	return p.evict()
}

func (p *arcPolicy) evict() []Victim {
	var victims []Victim
	if p.head == nil || p.capacity == 0 {
		return victims
	}
	for p.size > p.capacity {
		n := p.head
		switch n.state & 0b11 {
		case arcHot:
			if n.state&arcRef != 0 {
				n.state &^= arcRef
				p.head = n.next
			} else {
				n.state = arcCold
				p.head = n.next
			}
		case arcCold:
			if n.state&arcRef != 0 {
				n.state = arcHot
				n.state &^= arcRef
				p.head = n.next
			} else {
				p.size -= n.weight
				n.state = arcTest
				victims = append(victims, Victim{Key: n.key, Reason: ReasonCapacity})
				p.head = n.next
			}
		case arcTest:
			nxt := n.next
			p.unlink(n)
			delete(p.index, n.key)
			p.head = nxt
		}
		if p.head == nil {
			break
		}
	}
	return victims
}

func (p *arcPolicy) Touch(key string) {
	if n, ok := p.index[key]; ok {
		n.state |= arcRef
	}
}

func (p *arcPolicy) Remove(key string) {
	n, ok := p.index[key]
	if !ok {
		return
	}
	if n.state&0b11 != arcTest {
		p.size -= n.weight
	}
	p.unlink(n)
	delete(p.index, key)
}

func (p *arcPolicy) SetCapacity(bytes uint64) {
	p.capacity = bytes
}

// Len counts only resident (hot or cold) entries, excluding ghosts.
func (p *arcPolicy) Len() int {
	n := 0
	for _, e := range p.index {
		if e.state&0b11 != arcTest {
			n++
		}
	}
	return n
}
