package transport

import (
	"bytes"
)

const (
	// EOM terminates every framed message.
	EOM = "<|EOM|>"
	// ACK is an acknowledgement sentinel. It is logged, never delivered.
	ACK = "<|ACK|>"
	// SDW asks the peer to shut down. Receivers currently only log it.
	SDW = "<|SDW|>"

	// DefaultBufferSize is the read chunk size for socket connections.
	DefaultBufferSize = 8192
)

// Signal is a control sentinel observed on the wire.
type Signal int

const (
	SignalAck Signal = iota + 1
	SignalShutdown
)

func (s Signal) String() string {
	switch s {
	case SignalAck:
		return "ack"
	case SignalShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Frame appends the end-of-message marker to msg.
func Frame(msg string) []byte {
	out := make([]byte, 0, len(msg)+len(EOM))
	out = append(out, msg...)
	return append(out, EOM...)
}

// deframer accumulates received bytes and splits them into messages.
type deframer struct {
	buf []byte
}

// feed appends chunk and returns the complete messages and signals it
// produced, in arrival order per kind.
func (d *deframer) feed(chunk []byte) ([]string, []Signal) {
	d.buf = append(d.buf, chunk...)

	var (
		msgs    []string
		signals []Signal
	)
	for {
		// Sentinels count only when they are the whole buffer. A frame that
		// merely starts with one is an ordinary message.
		if sig := bareSignal(d.buf); sig != 0 {
			signals = append(signals, sig)
			d.buf = nil
			break
		}
		idx := bytes.Index(d.buf, []byte(EOM))
		if idx < 0 {
			break
		}
		msgs = append(msgs, string(d.buf[:idx]))
		d.buf = d.buf[idx+len(EOM):]
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return msgs, signals
}

// pending reports how many bytes are buffered without a terminating marker.
func (d *deframer) pending() int {
	return len(d.buf)
}

func bareSignal(b []byte) Signal {
	switch string(b) {
	case ACK:
		return SignalAck
	case SDW:
		return SignalShutdown
	default:
		return 0
	}
}
