// Package relay implements the signaling core: the peer registry, the
// pairing state machine, per-connection supervisors, the upgrade gateway,
// and the optional cross-instance fan-out. The relay brokers small control
// messages between two browser endpoints until they establish a direct
// peer connection; it never stores or interprets payload contents.
package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/beamdrop/beamdrop/internal/bus"
	"github.com/beamdrop/beamdrop/internal/config"
)

// busOpTimeout bounds each directory or publish call so a slow bus never
// stalls a supervisor's read loop.
const busOpTimeout = 2 * time.Second

func busContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), busOpTimeout)
}

// Relay owns all per-instance signaling state. Construct one per process
// (or per test) with New; nothing in this package uses ambient singletons.
type Relay struct {
	cfg      *config.Config
	metrics  *Metrics
	events   *EventLog
	registry *Registry
	pairing  *Pairing
	ips      *ipCounter
	bus      bus.Bus // nil when cross-instance fan-out is disabled
	upgrader websocket.Upgrader

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// New wires a relay from its injected services. b may be nil.
func New(cfg *config.Config, m *Metrics, events *EventLog, b bus.Bus) *Relay {
	r := &Relay{
		cfg:      cfg,
		metrics:  m,
		events:   events,
		registry: NewRegistry(),
		pairing:  NewPairing(),
		ips:      newIPCounter(cfg.MaxConnsPerIP),
		bus:      b,
	}
	r.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  4096,
		HandshakeTimeout: handshakeTimeout,
		CheckOrigin:      r.checkOrigin,
	}
	return r
}

// Run drives the heartbeat sweep and, when a bus is configured, the
// remote-delivery loop. Blocks until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	var busCh <-chan bus.Message
	if r.bus != nil {
		ch, err := r.bus.Subscribe(ctx)
		if err != nil {
			return err
		}
		busCh = ch
	}

	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.sweep()
		case m, ok := <-busCh:
			if !ok {
				busCh = nil
				continue
			}
			r.deliverRemote(m)
		}
	}
}

// sweep is the heartbeat scheduler: any connection that failed to be
// marked alive since the previous sweep is terminated; the rest are
// marked not-alive and pinged. Pong receipt flips the flag back.
func (r *Relay) sweep() {
	for _, c := range r.registry.Snapshot() {
		if !c.alive.Load() {
			c.shutdown(0, "heartbeat", false)
			continue
		}
		c.alive.Store(false)
		if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
			c.shutdown(0, "heartbeat", false)
		}
	}
}

// Shutdown closes every supervisor with a going-away code and waits for
// their goroutines within ctx's deadline.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	for _, c := range r.registry.Snapshot() {
		c.shutdown(websocket.CloseGoingAway, "going-away", true)
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clients reports the number of live supervisors.
func (r *Relay) Clients() int { return r.registry.Size() }

// readLoop is the supervisor's main loop. It exits on any read error and
// runs the full teardown; the recorded close reason wins over the
// fallback when the connection was closed deliberately.
func (r *Relay) readLoop(c *Client) {
	defer r.teardown(c)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		r.handleFrame(c, data)
	}
}

func (r *Relay) handleFrame(c *Client, data []byte) {
	env, err := decodeEnvelope(data)
	if err != nil {
		r.metrics.Errors.Inc()
		r.events.Invalid(c.code, err)
		return
	}

	if !c.limiter.Allow() {
		r.metrics.Errors.Inc()
		c.shutdown(websocket.ClosePolicyViolation, "rate", true)
		return
	}

	if env.Type == typeList {
		// Peer enumeration is disallowed by design; the answer is
		// always empty.
		msg, _ := json.Marshal(peersMessage{Type: "peers", Peers: []string{}})
		if !c.enqueue(msg) {
			r.metrics.Errors.Inc()
		}
		return
	}

	kind, err := validateSignal(env)
	if err != nil {
		r.metrics.Errors.Inc()
		r.events.Invalid(c.code, err)
		return
	}

	r.handleSignal(c, env, kind)

	switch kind {
	case KindOffer, KindAnswer, KindCandidate:
		c.cancelIdle()
	}
}

// handleSignal resolves the destination, applies the pairing gate, and
// forwards locally or over the bus. Resolution comes first: a signal
// toward a code hosted nowhere is dropped without touching pairing state.
// The one exception is bye, whose state effect still frees the sender's
// side even when the counterpart is already gone.
func (r *Relay) handleSignal(c *Client, env *SignalEnvelope, kind string) {
	dst := r.registry.Lookup(env.To)

	owner := ""
	if dst == nil && r.bus != nil {
		ctx, cancel := busContext()
		o, err := r.bus.Owner(ctx, env.To)
		cancel()
		if err != nil {
			r.metrics.Errors.Inc()
			r.events.BusError("owner", err)
			return
		}
		if o != r.cfg.NodeID {
			// An entry naming this instance is stale; treat as unknown.
			owner = o
		}
	}

	if dst == nil && owner == "" {
		if kind == KindBye {
			r.pairing.Gate(c.code, env.To, KindBye)
			r.metrics.Pairs.Set(float64(r.pairing.MutualPairs()))
		}
		// Destination miss is not an error.
		r.events.Dropped(c.code, env.To, kind, "unknown-peer")
		return
	}

	decision := r.pairing.Gate(c.code, env.To, kind)
	r.metrics.Pairs.Set(float64(r.pairing.MutualPairs()))

	switch decision {
	case DecisionBusy:
		if !c.enqueue(marshalRelayed(env.To, busyPayload)) {
			r.metrics.Errors.Inc()
		}
		r.events.Busy(c.code, env.To)
	case DecisionDrop:
		r.events.Dropped(c.code, env.To, kind, "pairing")
	case DecisionForward:
		if dst != nil {
			if dst.enqueue(marshalRelayed(c.code, env.Payload)) {
				r.metrics.Signals.WithLabelValues(kind).Inc()
				r.events.Forwarded(c.code, env.To, kind, "local")
			} else {
				r.metrics.Errors.Inc()
				r.events.Dropped(c.code, env.To, kind, "queue-full")
			}
		} else {
			r.publish(c.code, env, kind)
		}
	}
}

// publish sends a gated signal toward a peer hosted on another instance.
func (r *Relay) publish(from string, env *SignalEnvelope, kind string) {
	ctx, cancel := busContext()
	defer cancel()

	m := bus.Message{
		To:      env.To,
		From:    from,
		Type:    "signal",
		Payload: env.Payload,
		Origin:  r.cfg.NodeID,
	}
	if err := r.bus.Publish(ctx, m); err != nil {
		r.metrics.Errors.Inc()
		r.events.BusError("publish", err)
		return
	}
	r.metrics.Signals.WithLabelValues(kind).Inc()
	r.events.Forwarded(from, env.To, kind, "bus")
}

// deliverRemote hands a bus message to a local peer. Pairing gating
// happened on the originating instance; this side only mirrors the
// transition into its own map (so local replies can pass the gate) and
// delivers.
func (r *Relay) deliverRemote(m bus.Message) {
	var disc struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(m.Payload, &disc); err == nil {
		r.pairing.Absorb(m.From, m.To, disc.Type)
		r.metrics.Pairs.Set(float64(r.pairing.MutualPairs()))
	}

	dst := r.registry.Lookup(m.To)
	if dst == nil {
		return
	}
	if !dst.enqueue(marshalRelayed(m.From, m.Payload)) {
		r.metrics.Errors.Inc()
		r.events.Dropped(m.From, m.To, "signal", "queue-full")
	}
}

// teardown runs exactly once per connection, from the read loop's exit.
// Order: close the socket (if still open), drop it from the registry,
// clear pairing state, release the IP slot, then withdraw the bus entry.
func (r *Relay) teardown(c *Client) {
	c.shutdown(0, "peer-closed", false)

	r.registry.Remove(c.code)
	r.pairing.Release(c.code)
	r.ips.release(c.ip)
	r.metrics.Clients.Set(float64(r.registry.Size()))
	r.metrics.Pairs.Set(float64(r.pairing.MutualPairs()))

	if r.bus != nil {
		ctx, cancel := busContext()
		if err := r.bus.Unregister(ctx, c.code); err != nil {
			r.metrics.Errors.Inc()
			r.events.BusError("unregister", err)
		}
		cancel()
	}

	r.events.Disconnected(c.code, c.reason)
}
