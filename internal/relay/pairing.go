package relay

import "sync"

// Decision is the pairing state machine's verdict on one inbound signal.
type Decision int

const (
	// DecisionForward relays the signal to its destination.
	DecisionForward Decision = iota
	// DecisionBusy refuses an offer and synthesizes a busy reply to the
	// sender. Existing pairings are untouched.
	DecisionBusy
	// DecisionDrop discards the signal silently.
	DecisionDrop
)

// Pairing tracks, per peer code, which counterpart that peer considers its
// session partner. An empty entry means unpaired. A peer with a one-sided
// entry is dialing; two entries pointing at each other form a mutual
// pairing. Entries are independent per code — breaking one side never
// walks the other's structure — and may reference codes hosted on another
// instance.
//
// Invariants held for locally originated entries: no peer is the
// counterpart of two mutual pairings, no peer pairs with itself, and
// releasing a peer clears both its entry and a counterpart entry that
// points back at it.
type Pairing struct {
	mu sync.Mutex
	m  map[string]string
}

func NewPairing() *Pairing {
	return &Pairing{m: make(map[string]string)}
}

// Gate applies the transition table for a signal of the given kind from
// one peer toward another and reports what the relay should do with it.
// Kind must already be validated.
func (p *Pairing) Gate(from, to, kind string) Decision {
	p.mu.Lock()
	defer p.mu.Unlock()

	if from == to {
		// Self-signals would violate the from != recipient delivery
		// property; nothing in the protocol produces them.
		return DecisionDrop
	}

	a := p.m[from] // counterpart from's view
	b := p.m[to]   // counterpart to's view

	switch kind {
	case KindOffer:
		if (a == "" || a == to) && (b == "" || b == from) {
			p.m[from] = to
			return DecisionForward
		}
		return DecisionBusy

	case KindAnswer:
		// At least one side must already be dialing or paired with the
		// other, and neither side may be committed elsewhere.
		if (a == to || b == from) && (a == "" || a == to) && (b == "" || b == from) {
			p.m[from] = to
			p.m[to] = from
			return DecisionForward
		}
		return DecisionDrop

	case KindCandidate:
		// Relayed between an established or in-progress pair, or when
		// both sides are still free: the first candidate can race the
		// offer at session start.
		if a == to || b == from || (a == "" && b == "") {
			return DecisionForward
		}
		return DecisionDrop

	case KindBye:
		if a == to {
			delete(p.m, from)
		}
		if b == from {
			delete(p.m, to)
		}
		return DecisionForward

	default:
		// busy is never accepted inbound from clients.
		return DecisionDrop
	}
}

// Absorb mirrors a remotely gated signal into the local map so that local
// replies can pass the gate. The originating instance already enforced the
// transition table; this only records the outcome, it never refuses or
// synthesizes anything. Conflicting entries are left untouched.
func (p *Pairing) Absorb(from, to, kind string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if from == to {
		return
	}

	switch kind {
	case KindOffer:
		if v := p.m[from]; v == "" || v == to {
			p.m[from] = to
		}
	case KindAnswer:
		if (p.m[from] == "" || p.m[from] == to) && (p.m[to] == "" || p.m[to] == from) {
			p.m[from] = to
			p.m[to] = from
		}
	case KindBye:
		if p.m[from] == to {
			delete(p.m, from)
		}
		if p.m[to] == from {
			delete(p.m, to)
		}
	}
}

// Release clears the entry for code and, when its counterpart points back
// at code, that entry too. Called on connection teardown. Idempotent.
func (p *Pairing) Release(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp, ok := p.m[code]
	if !ok {
		return
	}
	delete(p.m, code)
	if p.m[cp] == code {
		delete(p.m, cp)
	}
}

// Counterpart returns code's current counterpart, or "".
func (p *Pairing) Counterpart(code string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.m[code]
}

// MutualPairs counts unordered pairs (a, b) that point at each other.
func (p *Pairing) MutualPairs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for a, b := range p.m {
		if a < b && p.m[b] == a {
			n++
		}
	}
	return n
}
