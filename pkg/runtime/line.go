package runtime

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// LineSource reads one message payload per line from a stream, assigning
// each a fresh ID. Blank lines are skipped. The stream end closes the
// source.
type LineSource struct {
	sc *bufio.Scanner
}

// NewLineSource wraps a reader, typically stdin or a socket.
func NewLineSource(r io.Reader) *LineSource {
	return &LineSource{sc: bufio.NewScanner(r)}
}

// Recv implements Source.
func (s *LineSource) Recv(ctx context.Context) (Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Message{}, err
		}
		if !s.sc.Scan() {
			if err := s.sc.Err(); err != nil {
				return Message{}, err
			}
			return Message{}, ErrSourceClosed
		}
		line := strings.TrimSpace(s.sc.Text())
		if line == "" {
			continue
		}
		return Message{ID: uuid.NewString(), Payload: line}, nil
	}
}

// LineSink writes one reply per line. Writes are serialized so replies from
// concurrent workers never interleave.
type LineSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLineSink wraps a writer, typically stdout.
func NewLineSink(w io.Writer) *LineSink {
	return &LineSink{w: w}
}

// Send implements Sink.
func (s *LineSink) Send(_ context.Context, r Reply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if r.Err != "" {
		_, err = fmt.Fprintf(s.w, "%s error %s\n", r.ID, r.Err)
	} else {
		_, err = fmt.Fprintf(s.w, "%s %s %s\n", r.ID, r.Path, r.Result)
	}
	return err
}
