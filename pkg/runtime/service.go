package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glyphtools/glyph/pkg/kernel"
	"github.com/glyphtools/glyph/pkg/manifest"
	"github.com/glyphtools/glyph/pkg/sexp"
	"github.com/glyphtools/glyph/pkg/store"
)

// ErrSourceClosed ends the serving loop when the inbound stream is done.
var ErrSourceClosed = errors.New("runtime: source closed")

// MountError means referenced artifacts are missing or failed integrity
// verification; the service refuses to serve from such a set.
type MountError struct {
	Reason string
	Err    error
}

func (e *MountError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mount: %s: %v", e.Reason, e.Err)
	}
	return "mount: " + e.Reason
}

func (e *MountError) Unwrap() error { return e.Err }

// State is the service lifecycle position.
type State int

const (
	Unmounted State = iota
	Mounted
	Serving
	Stopped
)

func (s State) String() string {
	switch s {
	case Unmounted:
		return "unmounted"
	case Mounted:
		return "mounted"
	case Serving:
		return "serving"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// ArtifactSet names a compiled output to mount: a store, its index, and the
// prefix the artifacts live under.
type ArtifactSet struct {
	Store    *store.Store
	Manifest *manifest.Manifest
	Prefix   string
	Target   string // namespace to bind, e.g. /mnt/app
}

// mounted is one kernel visible through a snapshot.
type mounted struct {
	entry manifest.Entry
	art   *kernel.Artifact
}

// snapshot is an immutable view of one mounted artifact set. Readers load
// the current snapshot once per message; a hot swap installs a new snapshot
// without disturbing evaluations already holding the old one.
type snapshot struct {
	mount  *store.Mount
	byName map[string]*mounted
	byHash map[sexp.Digest]*mounted
}

// Options tunes the service. Zero values fall back to defaults.
type Options struct {
	Workers     int           // concurrent message evaluations
	EvalTimeout time.Duration // per-message wall-clock bound
	StepBudget  int           // per-message interpreter step bound
	Commutative sexp.Options  // canonicalization used on payloads
	Logger      *slog.Logger
}

func (o *Options) fill() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.EvalTimeout <= 0 {
		o.EvalTimeout = 2 * time.Second
	}
	if o.StepBudget <= 0 {
		o.StepBudget = 10_000
	}
	if o.Commutative.Commutative == nil {
		o.Commutative = sexp.DefaultOptions()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Service serves messages against a mounted kernel namespace.
//
// Lifecycle: Unmounted -> Mounted -> Serving -> Stopped. Swap may replace
// the mounted set while serving; per-message errors never leave Serving.
type Service struct {
	opts Options

	mu    sync.Mutex
	state State
	stop  context.CancelFunc

	current atomic.Pointer[snapshot]
}

// NewService creates an unmounted service.
func NewService(opts Options) *Service {
	opts.fill()
	return &Service{opts: opts, state: Unmounted}
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// buildSnapshot verifies and decodes every kernel in the set. Any missing or
// corrupt artifact fails the whole snapshot: a namespace is served complete
// or not at all.
func buildSnapshot(set ArtifactSet) (*snapshot, error) {
	if set.Store == nil || set.Manifest == nil {
		return nil, &MountError{Reason: "artifact set missing store or manifest"}
	}
	target := set.Target
	if target == "" {
		target = "/mnt/app"
	}
	m, err := set.Store.Mount(set.Prefix, target)
	if err != nil {
		return nil, &MountError{Reason: "bind namespace", Err: err}
	}

	snap := &snapshot{
		mount:  m,
		byName: make(map[string]*mounted),
		byHash: make(map[sexp.Digest]*mounted),
	}
	for _, e := range set.Manifest.Entries() {
		if err := set.Manifest.Verify(e, set.Store, kernel.Hasher{}); err != nil {
			return nil, &MountError{Reason: "verify " + e.Name, Err: err}
		}
		data, err := set.Store.Read(e.ArtifactPath)
		if err != nil {
			return nil, &MountError{Reason: "read " + e.ArtifactPath, Err: err}
		}
		art, err := kernel.DecodeArtifact(data)
		if err != nil {
			return nil, &MountError{Reason: "decode " + e.ArtifactPath, Err: err}
		}
		mk := &mounted{entry: e, art: art}
		snap.byName[e.Name] = mk
		snap.byHash[e.Hash] = mk
	}
	if len(snap.byName) == 0 {
		return nil, &MountError{Reason: "artifact set is empty"}
	}
	return snap, nil
}

// Mount binds a compiled artifact set. Valid only before serving starts;
// use Swap to replace the set of a running service.
func (s *Service) Mount(set ArtifactSet) error {
	snap, err := buildSnapshot(set)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Unmounted {
		return &MountError{Reason: "invalid transition from " + s.state.String()}
	}
	s.current.Store(snap)
	s.state = Mounted
	s.opts.Logger.Info("mounted artifact set",
		"target", snap.mount.Target(), "kernels", len(snap.byName))
	return nil
}

// Swap atomically replaces the mounted set while mounted or serving. A
// message already dispatched finishes against the snapshot it started with;
// messages received after Swap returns see the new set.
func (s *Service) Swap(set ArtifactSet) error {
	snap, err := buildSnapshot(set)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Mounted && s.state != Serving {
		return &MountError{Reason: "invalid swap from " + s.state.String()}
	}
	s.current.Store(snap)
	swapsTotal.Inc()
	s.opts.Logger.Info("hot-swapped artifact set", "kernels", len(snap.byName))
	return nil
}

// Stop requests the serving loop to exit. Safe to call from any goroutine.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		s.stop()
	}
}

// Serve receives messages until the source closes, the context is
// cancelled, or Stop is called. Evaluations run on a bounded worker pool;
// an evaluation failure is a per-message reply, never a loop exit. Serve
// returns nil on a clean stop.
func (s *Service) Serve(ctx context.Context, src Source, sink Sink) error {
	s.mu.Lock()
	if s.state != Mounted {
		s.mu.Unlock()
		return fmt.Errorf("runtime: serve from state %s", s.state)
	}
	ctx, cancel := context.WithCancel(ctx)
	s.stop = cancel
	s.state = Serving
	s.mu.Unlock()
	defer cancel()

	jobs := make(chan Message)
	var wg sync.WaitGroup
	for i := 0; i < s.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range jobs {
				s.handle(ctx, msg, sink)
			}
		}()
	}

	var cause error
	for {
		msg, err := src.Recv(ctx)
		if err != nil {
			if !errors.Is(err, ErrSourceClosed) && !errors.Is(err, context.Canceled) {
				cause = err
			}
			break
		}
		select {
		case jobs <- msg:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()

	s.mu.Lock()
	s.state = Stopped
	s.mu.Unlock()
	s.opts.Logger.Info("runtime stopped")
	return cause
}

// handle evaluates one message against the snapshot current at dispatch
// time and reports the outcome on the sink.
func (s *Service) handle(ctx context.Context, msg Message, sink Sink) {
	messagesTotal.Inc()
	snap := s.current.Load()

	evalCtx, cancel := context.WithTimeout(ctx, s.opts.EvalTimeout)
	defer cancel()

	reply := s.evaluateMessage(evalCtx, snap, msg)
	if reply.Err != "" {
		evalErrorsTotal.Inc()
		s.opts.Logger.Warn("message failed", "id", msg.ID, "error", reply.Err)
	} else {
		s.opts.Logger.Debug("message served", "id", msg.ID, "path", reply.Path)
	}

	// Sink delivery uses the outer context: a slow evaluation must not eat
	// into reply delivery.
	if err := sink.Send(ctx, reply); err != nil && ctx.Err() == nil {
		s.opts.Logger.Warn("reply delivery failed", "id", msg.ID, "error", err)
	}
}

func (s *Service) evaluateMessage(ctx context.Context, snap *snapshot, msg Message) Reply {
	form, err := sexp.Parse(msg.Payload)
	if err != nil {
		return Reply{ID: msg.ID, Err: "parse: " + err.Error()}
	}
	canon := sexp.Canonicalize(form, s.opts.Commutative)

	ev := &evaluator{snap: snap, budget: s.opts.StepBudget}
	result, err := ev.eval(ctx, canon)
	if err != nil {
		return Reply{ID: msg.ID, Err: err.Error()}
	}
	return Reply{ID: msg.ID, Path: sexp.Path(canon), Result: sexp.Print(result)}
}
