// Package runtime mounts compiled artifact sets and services an unbounded
// stream of messages against them.
package runtime

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Message is one inbound unit of work: a symbolic payload to resolve and
// evaluate against the mounted kernels. Consumed exactly once.
type Message struct {
	ID      string `json:"id"`
	Payload string `json:"payload"`
}

// NewMessage wraps a payload with a fresh ID.
func NewMessage(payload string) Message {
	return Message{ID: uuid.NewString(), Payload: payload}
}

// Reply is the outcome of exactly one message. Err is a structured
// evaluation error description; it never aborts the serving loop.
type Reply struct {
	ID     string `json:"id"`
	Path   string `json:"path,omitempty"`
	Result string `json:"result,omitempty"`
	Err    string `json:"error,omitempty"`
}

// Source is the abstract inbound transport. Recv blocks for the next
// message; it returns an error (conventionally io.EOF) when the stream ends.
type Source interface {
	Recv(ctx context.Context) (Message, error)
}

// Sink is the abstract outbound transport for results.
type Sink interface {
	Send(ctx context.Context, r Reply) error
}

// ChanSource adapts a channel into a Source, for tests and in-process
// embedding. Close the channel to end the stream.
type ChanSource struct {
	C chan Message
}

// NewChanSource returns a buffered in-process source.
func NewChanSource(buf int) *ChanSource {
	return &ChanSource{C: make(chan Message, buf)}
}

// Recv implements Source.
func (s *ChanSource) Recv(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case m, ok := <-s.C:
		if !ok {
			return Message{}, ErrSourceClosed
		}
		return m, nil
	}
}

// ChanSink collects replies on a channel.
type ChanSink struct {
	C chan Reply

	mu     sync.Mutex
	closed bool
}

// NewChanSink returns a buffered in-process sink.
func NewChanSink(buf int) *ChanSink {
	return &ChanSink{C: make(chan Reply, buf)}
}

// Send implements Sink.
func (s *ChanSink) Send(ctx context.Context, r Reply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSourceClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case s.C <- r:
		return nil
	}
}
