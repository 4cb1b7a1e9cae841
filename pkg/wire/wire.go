// Package wire implements the binary frame format spoken over a document's
// websocket: a one byte label length, the UTF-8 type label, then the payload.
// Receivers must ignore frames whose label they do not recognise so that new
// informational frame types can be added without breaking old clients.
package wire

import "fmt"

const (
	// TypeSync carries the full encoded document state. The server sends one
	// sync frame to every connection before anything else.
	TypeSync = "sync"
	// TypeUpdate carries an incremental document change.
	TypeUpdate = "update"
	// TypeAwareness carries ephemeral presence bytes. Never persisted.
	TypeAwareness = "awareness"
	// TypeClients carries the connection count as a decimal string. Sent
	// server to client only.
	TypeClients = "clients"
)

const maxLabelLength = 255

func Encode(label string, payload []byte) ([]byte, error) {
	if len(label) == 0 {
		return nil, fmt.Errorf("frame label must not be empty")
	}
	if len(label) > maxLabelLength {
		return nil, fmt.Errorf("frame label of %d bytes exceeds %d", len(label), maxLabelLength)
	}
	buf := make([]byte, 0, 1+len(label)+len(payload))
	buf = append(buf, byte(len(label)))
	buf = append(buf, label...)
	buf = append(buf, payload...)
	return buf, nil
}

func Decode(frame []byte) (string, []byte, error) {
	if len(frame) == 0 {
		return "", nil, fmt.Errorf("cannot decode an empty frame")
	}
	n := int(frame[0])
	if n == 0 {
		return "", nil, fmt.Errorf("frame has an empty label")
	}
	if 1+n > len(frame) {
		return "", nil, fmt.Errorf("frame label length %d exceeds the %d byte frame", n, len(frame))
	}
	return string(frame[1 : 1+n]), frame[1+n:], nil
}
