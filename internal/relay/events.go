package relay

import "log/slog"

// EventLog writes structured records for relay events. All methods are
// nil-safe: calling any method on a nil *EventLog is a no-op, so callers
// skip nil checks at every site. Payload contents are never logged — only
// peer codes, kinds, and outcomes.
type EventLog struct {
	logger *slog.Logger
}

// NewEventLog creates an EventLog writing to the given handler. Events are
// grouped under "relay" for easy filtering.
func NewEventLog(handler slog.Handler) *EventLog {
	return &EventLog{logger: slog.New(handler).WithGroup("relay")}
}

// Connected logs a welcomed connection.
func (e *EventLog) Connected(code, ip string) {
	if e == nil {
		return
	}
	e.logger.Info("peer_connected", "peer", code, "ip", ip)
}

// Disconnected logs a torn-down connection and the close reason.
func (e *EventLog) Disconnected(code, reason string) {
	if e == nil {
		return
	}
	e.logger.Info("peer_disconnected", "peer", code, "reason", reason)
}

// Forwarded logs a successfully relayed signal.
func (e *EventLog) Forwarded(from, to, kind, via string) {
	if e == nil {
		return
	}
	e.logger.Debug("signal_forwarded", "peer", from, "counterpart", to, "kind", kind, "via", via)
}

// Busy logs an offer refused by pairing policy.
func (e *EventLog) Busy(from, to string) {
	if e == nil {
		return
	}
	e.logger.Info("offer_refused", "peer", from, "counterpart", to, "outcome", "busy")
}

// Dropped logs a silently discarded signal.
func (e *EventLog) Dropped(from, to, kind, reason string) {
	if e == nil {
		return
	}
	e.logger.Debug("signal_dropped", "peer", from, "counterpart", to, "kind", kind, "reason", reason)
}

// Invalid logs a frame that failed decoding or validation.
func (e *EventLog) Invalid(code string, err error) {
	if e == nil {
		return
	}
	e.logger.Warn("frame_invalid", "peer", code, "err", err)
}

// BusError logs a cross-instance bus failure.
func (e *EventLog) BusError(op string, err error) {
	if e == nil {
		return
	}
	e.logger.Warn("bus_error", "op", op, "err", err)
}
