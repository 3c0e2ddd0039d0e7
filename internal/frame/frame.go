package frame

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// maxFrameLen bounds the declared payload length read off the wire. Not part
// of the protocol itself, but without it a corrupt or hostile length prefix
// would make ReadMessage allocate and block on an arbitrarily large read.
const maxFrameLen = 64 << 20

// ReadMessage reads one length-prefixed frame: a 4-byte little-endian payload
// length, a 1-byte type tag, then the payload (spec §4.D).
func ReadMessage(r *bufio.Reader) (Message, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Message{}, err
	}
	length := binary.LittleEndian.Uint32(header[:4])
	if length > maxFrameLen {
		return Message{}, fmt.Errorf("frame: declared payload length %d exceeds sanity cap", length)
	}
	mt := MessageType(header[4])
	var payload []byte
	if length > 0 {
		payload = make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return Message{}, err
		}
	}
	return Message{Type: mt, Payload: payload}, nil
}

// WriteMessage writes m as a single length-prefixed frame. Per spec §5, the
// caller relies on the platform socket layer to make a single Write call of
// this size atomic with respect to other writers on the same connection
// rather than serializing writes with an explicit mutex.
func WriteMessage(w io.Writer, m Message) error {
	header := make([]byte, 5+len(m.Payload))
	binary.LittleEndian.PutUint32(header[:4], uint32(len(m.Payload)))
	header[4] = byte(m.Type)
	copy(header[5:], m.Payload)
	_, err := w.Write(header)
	return err
}
