package syslog

import (
	"bytes"
	"strings"
)

// MaxBufferedBytes is how much a TCP connection may accumulate without any
// delimiter before the framer gives up waiting and flushes the buffer as a
// single message.
const MaxBufferedBytes = 8192

// Framer splits one TCP connection's byte stream into discrete messages.
// Newline is the primary delimiter, a null byte (RFC 6587 non-transparent
// framing) the secondary one, and streams with no delimiter at all are
// flushed in MaxBufferedBytes chunks so a sender can never stall the
// pipeline by omitting terminators.
//
// UDP needs no framer: one datagram is one message.
type Framer struct {
	buf []byte
}

func NewFramer() *Framer {
	return &Framer{}
}

// Push appends received bytes and returns every complete message they
// produced, in order. Blank segments are dropped silently.
func (f *Framer) Push(data []byte) []string {
	f.buf = append(f.buf, data...)

	if bytes.IndexByte(f.buf, '\n') >= 0 {
		return f.split('\n')
	}
	if bytes.IndexByte(f.buf, 0) >= 0 {
		return f.split(0)
	}
	if len(f.buf) > MaxBufferedBytes {
		msg := string(f.buf)
		f.buf = f.buf[:0]
		if strings.TrimSpace(msg) == "" {
			return nil
		}
		return []string{msg}
	}
	return nil
}

// split emits every delimited segment and keeps the trailing partial one as
// the new buffer.
func (f *Framer) split(delim byte) []string {
	parts := bytes.Split(f.buf, []byte{delim})
	rest := parts[len(parts)-1]

	var messages []string
	for _, part := range parts[:len(parts)-1] {
		msg := strings.TrimSuffix(string(part), "\r")
		if strings.TrimSpace(msg) == "" {
			continue
		}
		messages = append(messages, msg)
	}

	f.buf = append(f.buf[:0], rest...)
	return messages
}

// Flush returns whatever is still buffered when the connection closes, so a
// final message without a trailing delimiter is not lost.
func (f *Framer) Flush() (string, bool) {
	msg := string(f.buf)
	f.buf = nil
	if strings.TrimSpace(msg) == "" {
		return "", false
	}
	return msg, true
}
