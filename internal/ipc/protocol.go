// Package ipc implements the length-prefixed JSON protocol used between
// the e2epool-agent daemon and its local CLI: a 4-byte big-endian length
// header followed by a JSON payload, over a Unix domain socket.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
)

const maxMessageSize = 1 << 20 // 1 MiB

var ErrMessageTooLarge = errors.New("ipc: message exceeds maximum size")

// WriteMessage writes a length-prefixed JSON message to w.
func WriteMessage(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// ReadMessage reads a length-prefixed JSON message from r into v. Returns
// io.EOF if the connection closed before any header was read.
func ReadMessage(r io.Reader, v any) error {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return err
	}
	length := binary.BigEndian.Uint32(header)
	if length > maxMessageSize {
		return ErrMessageTooLarge
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return err
	}
	return json.Unmarshal(payload, v)
}
