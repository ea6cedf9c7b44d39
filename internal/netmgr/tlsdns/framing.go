// Package tlsdns implements the TLS-DNS engine: message framing over a
// byte stream and the handshake/cycle state machine that couples a TLS
// connection to a caller that consumes whole, length-prefixed DNS messages
// instead of a raw byte stream.
package tlsdns

import (
	"encoding/binary"

	"github.com/AdguardTeam/golibs/errors"
)

// MaxMessageSize is the largest payload [AppendFramed] can encode: the
// 2-byte length prefix is a uint16, so the payload itself can be at most
// [MaxMessageSize] bytes.
const MaxMessageSize = 0xFFFF

// ErrMessageTooLarge is returned by [AppendFramed] when asked to frame a
// payload that doesn't fit in a uint16 length prefix.
const ErrMessageTooLarge errors.Error = "tlsdns: message too large to frame"

// ProcessBuffer extracts the next length-prefixed message from buf.  ok is
// false ("NOMORE" in the manager's error taxonomy) iff buf holds fewer than
// 2 bytes, or fewer than 2+len(message) bytes, matching property 6 of the
// manager's testable properties. When ok is true, msg aliases buf (it is
// never copied) and consumed is the number of leading bytes of buf — the
// 2-byte prefix plus the message itself — the caller should discard before
// calling ProcessBuffer again on the remainder.
func ProcessBuffer(buf []byte) (msg []byte, consumed int, ok bool) {
	if len(buf) < 2 {
		return nil, 0, false
	}

	l := int(binary.BigEndian.Uint16(buf[:2]))
	if len(buf) < 2+l {
		return nil, 0, false
	}

	return buf[2 : 2+l], 2 + l, true
}

// AppendFramed appends msg to buf prefixed with its 2-byte big-endian
// length, returning the extended slice.
func AppendFramed(buf, msg []byte) (out []byte, err error) {
	if len(msg) > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}

	var prefix [2]byte
	binary.BigEndian.PutUint16(prefix[:], uint16(len(msg)))

	out = append(buf, prefix[:]...)
	out = append(out, msg...)

	return out, nil
}
