package hub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// RecordSeparator terminates every JSON record on the wire.
const RecordSeparator byte = 0x1e

// Message types of the JSON hub protocol.
const (
	TypeInvocation = 1
	TypeStreamItem = 2
	TypeCompletion = 3
	TypePing       = 6
	TypeClose      = 7
)

var handshakeRequest = []byte(`{"protocol":"json","version":1}`)

type handshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// Message is one decoded hub record. Only the fields the client acts on are kept.
type Message struct {
	Type      int               `json:"type"`
	Target    string            `json:"target,omitempty"`
	Arguments []json.RawMessage `json:"arguments,omitempty"`
	Error     string            `json:"error,omitempty"`
}

type invocation struct {
	Type      int    `json:"type"`
	Target    string `json:"target"`
	Arguments []any  `json:"arguments"`
}

// Envelope is the payload carried by the load-test method in both directions.
type Envelope struct {
	CreatedTime time.Time `json:"createdTime"`
	Content     []byte    `json:"content"`
}

// appendRecord appends the record separator to an encoded record.
func appendRecord(dst, record []byte) []byte {
	dst = append(dst, record...)
	return append(dst, RecordSeparator)
}

// splitRecords cuts a frame into its separator-terminated records. Trailing
// bytes without a separator are returned as the remainder.
func splitRecords(frame []byte) (records [][]byte, rest []byte) {
	for len(frame) > 0 {
		i := bytes.IndexByte(frame, RecordSeparator)
		if i < 0 {
			return records, frame
		}
		if i > 0 {
			records = append(records, frame[:i])
		}
		frame = frame[i+1:]
	}
	return records, nil
}

// encodeInvocation builds a non-blocking invocation record (no invocation id).
func encodeInvocation(target string, args []any) ([]byte, error) {
	if args == nil {
		args = []any{}
	}
	body, err := json.Marshal(invocation{Type: TypeInvocation, Target: target, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("encode invocation %s: %w", target, err)
	}
	return appendRecord(nil, body), nil
}

func encodePing() []byte {
	return appendRecord(nil, []byte(`{"type":6}`))
}

func encodeClose() []byte {
	return appendRecord(nil, []byte(`{"type":7}`))
}

func decodeMessage(record []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(record, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	return msg, nil
}

func decodeHandshake(record []byte) error {
	var resp handshakeResponse
	if err := json.Unmarshal(record, &resp); err != nil {
		return &HandshakeError{Reason: "malformed handshake response", Err: err}
	}
	if resp.Error != "" {
		return &HandshakeError{Reason: resp.Error}
	}
	return nil
}
