package hub

import (
	"errors"
	"strings"
	"testing"
)

func TestSplitRecords(t *testing.T) {
	frame := []byte("{}\x1e{\"type\":6}\x1e{\"type\":1")
	records, rest := splitRecords(frame)
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if string(records[0]) != "{}" || string(records[1]) != `{"type":6}` {
		t.Errorf("unexpected records %q", records)
	}
	if string(rest) != `{"type":1` {
		t.Errorf("rest = %q", rest)
	}
}

func TestEncodeInvocation(t *testing.T) {
	frame, err := encodeInvocation("PerformanceTest", []any{map[string]int{"a": 1}})
	if err != nil {
		t.Fatalf("encodeInvocation error = %v", err)
	}
	if frame[len(frame)-1] != RecordSeparator {
		t.Fatal("frame is not terminated by the record separator")
	}
	want := `{"type":1,"target":"PerformanceTest","arguments":[{"a":1}]}`
	if got := string(frame[:len(frame)-1]); got != want {
		t.Errorf("frame = %s, want %s", got, want)
	}

	empty, _ := encodeInvocation("Ping", nil)
	if !strings.Contains(string(empty), `"arguments":[]`) {
		t.Errorf("expected empty arguments array, got %s", empty)
	}
}

func TestDecodeHandshake(t *testing.T) {
	if err := decodeHandshake([]byte(`{}`)); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	var hsErr *HandshakeError
	if err := decodeHandshake([]byte(`{"error":"nope"}`)); !errors.As(err, &hsErr) || hsErr.Reason != "nope" {
		t.Fatalf("expected HandshakeError nope, got %v", err)
	}
	if err := decodeHandshake([]byte(`not json`)); !errors.As(err, &hsErr) || hsErr.Err == nil {
		t.Fatalf("expected wrapped decode error, got %v", err)
	}
}

func TestDecodeMessage(t *testing.T) {
	msg, err := decodeMessage([]byte(`{"type":1,"target":"Connected","arguments":[1,"x"]}`))
	if err != nil {
		t.Fatalf("decodeMessage error = %v", err)
	}
	if msg.Type != TypeInvocation || msg.Target != "Connected" || len(msg.Arguments) != 2 {
		t.Errorf("unexpected message %+v", msg)
	}
	if _, err := decodeMessage([]byte(`{`)); err == nil {
		t.Error("expected error for truncated record")
	}
}
