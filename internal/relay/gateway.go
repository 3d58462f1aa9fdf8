package relay

import (
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ServeHTTP accepts upgrade requests on the configured signaling path.
// Rejections: wrong path 404, disallowed origin 403 (written by the
// upgrader), IP quota 429, shutdown in progress 503.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != r.cfg.WSPath {
		http.NotFound(w, req)
		return
	}

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	ip := clientIP(req)
	if !r.ips.acquire(ip) {
		http.Error(w, "connection limit reached", http.StatusTooManyRequests)
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade already wrote the handshake error response.
		r.ips.release(ip)
		return
	}

	r.accept(conn, ip)
}

// checkOrigin implements the origin policy: exact allowlist match when an
// allowlist is configured, otherwise the Origin host must equal the
// request Host, scheme-agnostic. Requests without an Origin header are
// not browser-initiated and pass.
func (r *Relay) checkOrigin(req *http.Request) bool {
	origin := req.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(r.cfg.AllowedOrigins) > 0 {
		for _, allowed := range r.cfg.AllowedOrigins {
			if origin == allowed {
				return true
			}
		}
		return false
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, req.Host)
}

// clientIP prefers the first X-Forwarded-For hop (the relay normally sits
// behind a TLS-terminating proxy), falling back to the socket address.
func clientIP(req *http.Request) string {
	if fwd := req.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

// accept installs a supervisor on a freshly upgraded socket: mint the
// code, queue the welcome, start the write pump, register the peer, then
// start the read loop. The welcome is queued before the registry insert,
// so no relayed envelope can precede it.
func (r *Relay) accept(conn *websocket.Conn, ip string) {
	code := uuid.NewString()
	c := newClient(code, ip, conn, r.cfg.MessageRate, r.cfg.MessageBurst)

	conn.SetReadLimit(MaxFrameBytes)
	conn.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	welcome, _ := json.Marshal(welcomeMessage{Type: "welcome", ID: code})
	c.enqueue(welcome)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		c.writePump()
	}()

	if err := r.registry.Insert(code, c); err != nil {
		// Codes are unique per run; only reachable if the minting
		// invariant is broken.
		c.shutdown(websocket.CloseInternalServerErr, "registry", true)
		r.ips.release(ip)
		return
	}
	r.metrics.Clients.Set(float64(r.registry.Size()))

	if r.bus != nil {
		ctx, cancel := busContext()
		if err := r.bus.Register(ctx, code); err != nil {
			r.metrics.Errors.Inc()
			r.events.BusError("register", err)
		}
		cancel()
	}

	c.armIdle(r.cfg.IdleTimeout)
	r.events.Connected(code, ip)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.readLoop(c)
	}()
}
