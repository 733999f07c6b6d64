package transport

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/text/encoding/unicode"
)

// MaxFrameBytes is the largest payload the two byte header can describe.
// Longer payloads are truncated, not split. The limit is odd, so a
// truncated frame ends in half a UTF-16 code unit and ReadFrame decodes
// it as a trailing U+FFFD.
const MaxFrameBytes = 65535

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// WriteFrame writes s as a length-prefixed UTF-16LE frame and returns the
// number of bytes written, header included.
func WriteFrame(w io.Writer, s string) (int, error) {
	payload, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return 0, fmt.Errorf("encode utf-16: %w", err)
	}
	if len(payload) > MaxFrameBytes {
		payload = payload[:MaxFrameBytes]
	}

	frame := make([]byte, 2+len(payload))
	binary.BigEndian.PutUint16(frame, uint16(len(payload)))
	copy(frame[2:], payload)

	n, err := w.Write(frame)
	if err != nil {
		return n, fmt.Errorf("write frame: %w", err)
	}
	if f, ok := w.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return n, fmt.Errorf("flush frame: %w", err)
		}
	}
	return n, nil
}

// ReadFrame blocks until one complete frame is available and returns its
// decoded text. io.EOF is returned only on a clean boundary.
func ReadFrame(r io.Reader) (string, error) {
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return "", err
	}
	payload := make([]byte, binary.BigEndian.Uint16(header[:]))
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return "", fmt.Errorf("read frame payload: %w", err)
	}
	text, err := utf16le.NewDecoder().Bytes(payload)
	if err != nil {
		return "", fmt.Errorf("decode utf-16: %w", err)
	}
	return string(text), nil
}

// PipeConn is a duplex length-prefixed connection over a reader/writer pair,
// typically a child process's stdout and stdin.
type PipeConn struct {
	r      *bufio.Reader
	w      io.Writer
	logger *slog.Logger

	wmu       sync.Mutex
	startOnce sync.Once
	msgs      chan string
}

// NewPipeConn wraps r and w. Either may be nil for a one-way pipe.
func NewPipeConn(r io.Reader, w io.Writer, logger *slog.Logger) *PipeConn {
	if logger == nil {
		logger = slog.Default()
	}
	p := &PipeConn{w: w, logger: logger, msgs: make(chan string, 16)}
	if r != nil {
		p.r = bufio.NewReader(r)
	}
	return p
}

// Send writes one frame. A pipe without a writer drops the message.
func (p *PipeConn) Send(msg string) (int, error) {
	if p.w == nil {
		p.logger.Warn("send dropped: pipe has no writer", "bytes", len(msg))
		return 0, nil
	}
	p.wmu.Lock()
	defer p.wmu.Unlock()
	return WriteFrame(p.w, msg)
}

// Receive reads the next frame synchronously. It must not be mixed with
// Messages.
func (p *PipeConn) Receive() (string, error) {
	if p.r == nil {
		return "", ErrNotConnected
	}
	return ReadFrame(p.r)
}

// Messages starts the receive loop on first use and yields decoded frames
// until the reader fails.
func (p *PipeConn) Messages() <-chan string {
	p.startOnce.Do(func() {
		if p.r == nil {
			close(p.msgs)
			return
		}
		go p.readLoop()
	})
	return p.msgs
}

func (p *PipeConn) readLoop() {
	defer close(p.msgs)
	for {
		msg, err := ReadFrame(p.r)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.logger.Warn("pipe read failed", "error", err)
			}
			return
		}
		p.msgs <- msg
	}
}
