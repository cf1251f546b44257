package rpc

import (
	"bufio"
	"bytes"
	"testing"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	payload := []byte("hello frame")

	if err := WriteFrame(w, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	r := bufio.NewReader(&buf)
	got, err := ReadFrame(r, 0)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestReadFrameRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(make([]byte, headerLen))
	r := bufio.NewReader(&buf)

	if _, err := ReadFrame(r, 0); err == nil {
		t.Fatal("expected error for bad magic, got nil")
	}
}

func TestReadFrameEnforcesMessageSize(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	if err := WriteFrame(w, make([]byte, 1024)); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	r := bufio.NewReader(&buf)
	if _, err := ReadFrame(r, 64); err == nil {
		t.Fatal("expected MessageTooLarge error, got nil")
	}
}
