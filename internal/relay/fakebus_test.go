package relay

import (
	"context"
	"sync"

	"github.com/beamdrop/beamdrop/internal/bus"
)

// busHub is an in-memory stand-in for the shared Redis deployment: one
// directory plus one fan-out channel per node. Channels exist from node
// creation so a publish can never race a subscriber's startup.
type busHub struct {
	mu   sync.Mutex
	dir  map[string]string
	subs map[string]chan bus.Message
}

func newBusHub() *busHub {
	return &busHub{
		dir:  make(map[string]string),
		subs: make(map[string]chan bus.Message),
	}
}

func (h *busHub) node(id string) bus.Bus {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[id]; !ok {
		h.subs[id] = make(chan bus.Message, 64)
	}
	return &hubNode{h: h, id: id}
}

type hubNode struct {
	h  *busHub
	id string
}

func (n *hubNode) Register(_ context.Context, code string) error {
	n.h.mu.Lock()
	defer n.h.mu.Unlock()
	n.h.dir[code] = n.id
	return nil
}

func (n *hubNode) Unregister(_ context.Context, code string) error {
	n.h.mu.Lock()
	defer n.h.mu.Unlock()
	delete(n.h.dir, code)
	return nil
}

func (n *hubNode) Owner(_ context.Context, code string) (string, error) {
	n.h.mu.Lock()
	defer n.h.mu.Unlock()
	return n.h.dir[code], nil
}

func (n *hubNode) Publish(_ context.Context, m bus.Message) error {
	n.h.mu.Lock()
	defer n.h.mu.Unlock()
	for node, ch := range n.h.subs {
		if node == m.Origin {
			continue
		}
		select {
		case ch <- m:
		default:
		}
	}
	return nil
}

func (n *hubNode) Subscribe(context.Context) (<-chan bus.Message, error) {
	n.h.mu.Lock()
	defer n.h.mu.Unlock()
	return n.h.subs[n.id], nil
}

func (n *hubNode) Close() error { return nil }
