package protocol

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// frameHeaderLen is the size of the length prefix in bytes.
const frameHeaderLen = 4

// maxFrameLen bounds a single frame's payload to guard against a malformed
// or hostile length prefix forcing an unbounded allocation.
const maxFrameLen = 16 << 20 // 16 MiB

// Encode frames m as 4-byte big-endian length followed by its JSON payload.
func Encode(m Message) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", m.Type, err)
	}
	out := make([]byte, frameHeaderLen+len(payload))
	binary.BigEndian.PutUint32(out[:frameHeaderLen], uint32(len(payload)))
	copy(out[frameHeaderLen:], payload)
	return out, nil
}

// Decode attempts to parse a single framed Message from the front of buf.
//
// It returns the decoded Message and the number of bytes consumed from buf.
// consumed == 0 (with a nil error) means buf does not yet hold a complete
// frame — the caller should read more bytes and retry. A non-nil error is
// fatal: the payload failed to decode and the caller should drop the
// connection, per spec.
func Decode(buf []byte) (msg Message, consumed int, err error) {
	if len(buf) < frameHeaderLen {
		return Message{}, 0, nil
	}
	length := binary.BigEndian.Uint32(buf[:frameHeaderLen])
	if length > maxFrameLen {
		return Message{}, 0, fmt.Errorf("protocol: frame length %d exceeds max %d", length, maxFrameLen)
	}
	total := frameHeaderLen + int(length)
	if len(buf) < total {
		return Message{}, 0, nil
	}
	if err := json.Unmarshal(buf[frameHeaderLen:total], &msg); err != nil {
		return Message{}, 0, fmt.Errorf("protocol: decode payload: %w", err)
	}
	return msg, total, nil
}

// Reader incrementally decodes Messages from an underlying io.Reader,
// buffering partial frames across Read calls.
type Reader struct {
	r   *bufio.Reader
	buf []byte
}

// NewReader wraps r for framed Message reading.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// ReadMessage blocks until one full Message has been read, the underlying
// reader returns EOF with no partial frame pending (io.EOF), or a decode
// error occurs (fatal — the caller should drop the connection).
func (d *Reader) ReadMessage() (Message, error) {
	for {
		if msg, consumed, err := Decode(d.buf); err != nil {
			return Message{}, err
		} else if consumed > 0 {
			d.buf = d.buf[consumed:]
			return msg, nil
		}

		chunk := make([]byte, 4096)
		n, err := d.r.Read(chunk)
		if n > 0 {
			d.buf = append(d.buf, chunk[:n]...)
		}
		if err != nil {
			if n == 0 {
				return Message{}, err
			}
			// Fall through: try to decode what we already have before
			// surfacing the error on the next call.
			if msg, consumed, derr := Decode(d.buf); derr == nil && consumed > 0 {
				d.buf = d.buf[consumed:]
				return msg, nil
			}
			return Message{}, err
		}
	}
}

// WriteMessage frames and writes m to w.
func WriteMessage(w io.Writer, m Message) error {
	b, err := Encode(m)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}
