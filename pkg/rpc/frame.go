// Package rpc implements the wire framing and request dispatch for the DB
// server: a length-delimited binary protocol over TCP carrying gob-encoded
// typed requests, plus the connection acceptor, pipelining, auth and
// admission-control discipline. Each frame opens with a magic number and a
// version stamp, followed by a single length-prefixed gob payload, read
// through a buffered reader with one goroutine per accepted connection.
// The AI proxy (pkg/ai) reuses the framing in this package but defines its
// own request/response taxonomy.
package rpc

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/vectorkv/vectorkv/pkg/schema"
)

// Magic opens every frame.
var Magic = [8]byte{'A', 'H', 'N', 'L', 'I', 'C', 'H', '1'}

// Version is the per-frame protocol version. Major must match between
// client and server; Minor/Patch are informational.
type Version struct {
	Major uint8
	Minor uint16
	Patch uint16
}

// CurrentVersion is the version this package's framing writes and accepts.
var CurrentVersion = Version{Major: 1, Minor: 0, Patch: 0}

// headerLen is magic(8) + major(1) + minor(2) + patch(2) + length(8).
const headerLen = 8 + 1 + 2 + 2 + 8

// WriteFrame writes one complete frame: magic, version, length, payload.
func WriteFrame(w *bufio.Writer, payload []byte) error {
	buf := make([]byte, headerLen)
	copy(buf[0:8], Magic[:])
	buf[8] = CurrentVersion.Major
	binary.LittleEndian.PutUint16(buf[9:11], CurrentVersion.Minor)
	binary.LittleEndian.PutUint16(buf[11:13], CurrentVersion.Patch)
	binary.LittleEndian.PutUint64(buf[13:21], uint64(len(payload)))
	if _, err := w.Write(buf); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return w.Flush()
}

// ReadFrame reads one complete frame, validating magic and major version
// before touching LENGTH, and rejecting LENGTH beyond maxSize with
// MessageTooLarge before allocating or reading PAYLOAD, so an oversized
// frame is refused before any deserialisation work happens.
func ReadFrame(r *bufio.Reader, maxSize uint64) ([]byte, error) {
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if string(header[0:8]) != string(Magic[:]) {
		return nil, schema.NewError(schema.TagVersionMismatch, "bad magic header")
	}
	major := header[8]
	if major != CurrentVersion.Major {
		return nil, schema.NewError(schema.TagVersionMismatch, "peer major version %d, server speaks %d", major, CurrentVersion.Major)
	}
	n := binary.LittleEndian.Uint64(header[13:21])
	if maxSize > 0 && n > maxSize {
		return nil, schema.NewError(schema.TagMessageTooLarge, "frame of %d bytes exceeds message_size cap %d", n, maxSize)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
