package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Signal kinds recognized in payload.type. The relay never looks past the
// discriminator; session descriptions and candidates stay opaque.
const (
	KindOffer     = "offer"
	KindAnswer    = "answer"
	KindCandidate = "candidate"
	KindBye       = "bye"
	KindBusy      = "busy"
)

// Size limits, enforced on the serialized payload.
const (
	// MaxFrameBytes caps a whole inbound WebSocket frame.
	MaxFrameBytes = 256 << 10

	maxSDPBytes       = 200_000
	maxCandidateBytes = 50_000
)

// Envelope validation errors. All of them leave the connection open; the
// frame is dropped and ws_errors_total incremented.
var (
	ErrBadJSON      = errors.New("frame is not valid JSON")
	ErrBadRecipient = errors.New("missing or invalid to field")
	ErrBadPayload   = errors.New("payload is not an object with a type")
	ErrUnknownKind  = errors.New("unrecognized payload type")
	ErrOversized    = errors.New("payload exceeds size limit")
)

// SignalEnvelope is one inbound client frame.
type SignalEnvelope struct {
	To      string          `json:"to"`
	Type    string          `json:"type,omitempty"` // "list" or absent
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RelayedEnvelope is the outbound shape for forwarded and synthetic signals.
type RelayedEnvelope struct {
	From    string          `json:"from"`
	Type    string          `json:"type"` // always "signal"
	Payload json.RawMessage `json:"payload"`
}

type welcomeMessage struct {
	Type string `json:"type"` // "welcome"
	ID   string `json:"id"`
}

type peersMessage struct {
	Type  string   `json:"type"` // "peers"
	Peers []string `json:"peers"`
}

// typeList is the only envelope-level request type besides plain signals.
const typeList = "list"

// decodeEnvelope parses an inbound frame. A frame that is not a JSON
// object with the expected field types fails with ErrBadJSON.
func decodeEnvelope(data []byte) (*SignalEnvelope, error) {
	var env SignalEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadJSON, err)
	}
	return &env, nil
}

// validateSignal checks a non-list envelope and returns the payload kind.
// The payload must be a JSON object carrying a recognized type, and
// session descriptions and candidates must fit their serialized limits.
func validateSignal(env *SignalEnvelope) (string, error) {
	if env.To == "" {
		return "", ErrBadRecipient
	}
	var disc struct {
		Type string `json:"type"`
	}
	if len(env.Payload) == 0 || env.Payload[0] != '{' {
		return "", ErrBadPayload
	}
	if err := json.Unmarshal(env.Payload, &disc); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	switch disc.Type {
	case KindOffer, KindAnswer:
		if len(env.Payload) > maxSDPBytes {
			return "", fmt.Errorf("%w: %s payload %d bytes", ErrOversized, disc.Type, len(env.Payload))
		}
	case KindCandidate:
		if len(env.Payload) > maxCandidateBytes {
			return "", fmt.Errorf("%w: candidate payload %d bytes", ErrOversized, len(env.Payload))
		}
	case KindBye, KindBusy:
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, disc.Type)
	}
	return disc.Type, nil
}

// busyPayload is the synthetic payload sent back when an offer is refused
// by pairing policy.
var busyPayload = json.RawMessage(`{"type":"busy"}`)

func marshalRelayed(from string, payload json.RawMessage) []byte {
	data, err := json.Marshal(RelayedEnvelope{From: from, Type: "signal", Payload: payload})
	if err != nil {
		// payload is pre-validated JSON; this cannot fail at runtime
		panic(fmt.Sprintf("marshal relayed envelope: %v", err))
	}
	return data
}
