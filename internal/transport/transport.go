package transport

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// Kind identifies a transport variant, highest capability first.
type Kind string

const (
	KindRealtimePubSub Kind = "realtime_pubsub"
	KindDuplexSocket   Kind = "duplex_socket"
	KindHTTPPolling    Kind = "http_polling"
)

// ParseKind maps a config string to a transport kind.
func ParseKind(raw string) (Kind, bool) {
	switch Kind(strings.TrimSpace(strings.ToLower(raw))) {
	case KindRealtimePubSub:
		return KindRealtimePubSub, true
	case KindDuplexSocket:
		return KindDuplexSocket, true
	case KindHTTPPolling:
		return KindHTTPPolling, true
	default:
		return "", false
	}
}

// Channel failure taxonomy. Disconnected triggers a re-probe, Timeout may
// be retried by the caller, Fatal is surfaced without retry.
var (
	ErrDisconnected = errors.New("transport: disconnected")
	ErrTimeout      = errors.New("transport: send timed out")
	ErrFatal        = errors.New("transport: malformed payload")
	ErrClosed       = errors.New("transport: channel closed")
)

// Frame is the unit of exchange on a channel.
type Frame struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	MessageID string          `json:"messageId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// EncodeFrame builds a frame with a JSON-encoded payload.
func EncodeFrame(frameType, sessionID string, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, errors.Join(ErrFatal, err)
	}
	return Frame{Type: frameType, SessionID: sessionID, Data: data}, nil
}

// Channel is the uniform bidirectional surface callers see regardless of
// which transport won the probe. Delivery is at-most-once and in send
// order per channel instance; a downgrade window can lose or, rarely,
// duplicate a frame, so consumers dedup by message id.
type Channel interface {
	Kind() Kind
	Send(frame Frame) error
	OnMessage(handler func(Frame))
	Close() error
}

// Transport is one probe candidate. Available is a cheap local check;
// Connect may still fail and is bounded by the probe's timeout.
type Transport interface {
	Kind() Kind
	Available() bool
	Connect(ctx context.Context) (Channel, error)
}
