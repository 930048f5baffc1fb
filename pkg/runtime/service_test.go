package runtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/glyphtools/glyph/pkg/kernel"
	"github.com/glyphtools/glyph/pkg/manifest"
	"github.com/glyphtools/glyph/pkg/sexp"
	"github.com/glyphtools/glyph/pkg/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// compileSet compiles a source form into a fresh store and returns the
// artifact set ready to mount.
func compileSet(t *testing.T, src string) ArtifactSet {
	t.Helper()
	st := store.New(t.TempDir())
	man := manifest.New()
	c := kernel.New(st, man, kernel.WithLogger(quietLogger()))

	form, err := sexp.Parse(src)
	if err != nil {
		t.Fatalf("Parse(%q): %v", src, err)
	}
	res, err := c.Compile(context.Background(), form)
	if err != nil {
		t.Fatalf("Compile(%q): %v", src, err)
	}
	if _, _, failed := res.Counts(); failed > 0 {
		t.Fatalf("Compile(%q): %d failed units", src, failed)
	}
	return ArtifactSet{Store: st, Manifest: man, Prefix: c.Prefix(), Target: "/mnt/app"}
}

func testService(t *testing.T, src string) *Service {
	t.Helper()
	svc := NewService(Options{Logger: quietLogger()})
	if err := svc.Mount(compileSet(t, src)); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	return svc
}

// serveAndCollect runs the serving loop over the given payloads and returns
// the replies keyed by message ID.
func serveAndCollect(t *testing.T, svc *Service, payloads []string) map[string]Reply {
	t.Helper()
	src := NewChanSource(len(payloads))
	sink := NewChanSink(len(payloads))
	msgs := make([]Message, len(payloads))
	for i, p := range payloads {
		msgs[i] = NewMessage(p)
		src.C <- msgs[i]
	}
	close(src.C)

	done := make(chan error, 1)
	go func() { done <- svc.Serve(context.Background(), src, sink) }()

	replies := map[string]Reply{}
	for range payloads {
		select {
		case r := <-sink.C:
			replies[r.ID] = r
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for replies")
		}
	}
	if err := <-done; err != nil {
		t.Fatalf("Serve: %v", err)
	}

	out := map[string]Reply{}
	for i, m := range msgs {
		r, ok := replies[m.ID]
		if !ok {
			t.Fatalf("no reply for message %d (%q)", i, payloads[i])
		}
		out[payloads[i]] = r
	}
	return out
}

func TestServiceLifecycle(t *testing.T) {
	svc := NewService(Options{Logger: quietLogger()})
	if got := svc.State(); got != Unmounted {
		t.Fatalf("initial state = %v, want %v", got, Unmounted)
	}

	set := compileSet(t, "(canvas (stroke 90 1) (dot))")
	if err := svc.Mount(set); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if got := svc.State(); got != Mounted {
		t.Fatalf("state after mount = %v, want %v", got, Mounted)
	}

	// Mounting twice is an invalid transition.
	var merr *MountError
	if err := svc.Mount(set); !errors.As(err, &merr) {
		t.Fatalf("second Mount = %v, want MountError", err)
	}

	serveAndCollect(t, svc, []string{"(dot)"})
	if got := svc.State(); got != Stopped {
		t.Fatalf("state after serve = %v, want %v", got, Stopped)
	}

	// A stopped service does not serve again.
	if err := svc.Serve(context.Background(), NewChanSource(0), NewChanSink(0)); err == nil {
		t.Fatal("Serve from stopped state succeeded, want error")
	}
}

func TestServeRequiresMount(t *testing.T) {
	svc := NewService(Options{Logger: quietLogger()})
	err := svc.Serve(context.Background(), NewChanSource(0), NewChanSink(0))
	if err == nil {
		t.Fatal("Serve without mount succeeded, want error")
	}
}

func TestMountRejectsEmptySet(t *testing.T) {
	svc := NewService(Options{Logger: quietLogger()})
	set := ArtifactSet{Store: store.New(t.TempDir()), Manifest: manifest.New(), Prefix: "form"}

	var merr *MountError
	if err := svc.Mount(set); !errors.As(err, &merr) {
		t.Fatalf("Mount(empty) = %v, want MountError", err)
	}
	if svc.State() != Unmounted {
		t.Fatalf("state = %v, want %v", svc.State(), Unmounted)
	}
}

func TestMountRejectsCorruptArtifact(t *testing.T) {
	set := compileSet(t, "(canvas (stroke 90 1) (dot))")

	// Flip the stored bytes of one artifact out from under the index.
	entries := set.Manifest.Entries()
	if err := set.Store.Write(entries[0].ArtifactPath, []byte("garbage")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	svc := NewService(Options{Logger: quietLogger()})
	var merr *MountError
	if err := svc.Mount(set); !errors.As(err, &merr) {
		t.Fatalf("Mount(corrupt) = %v, want MountError", err)
	}
}

func TestServeResolvesMountedKernels(t *testing.T) {
	svc := testService(t, "(canvas (stroke 90 1) (dot))")
	replies := serveAndCollect(t, svc, []string{"(dot)", "(stroke 90 1)"})

	r := replies["(dot)"]
	if r.Err != "" {
		t.Fatalf("(dot) failed: %s", r.Err)
	}
	if r.Path != "/dot" {
		t.Fatalf("(dot) path = %q, want %q", r.Path, "/dot")
	}
	if !strings.Contains(r.Result, "kernel dot") {
		t.Fatalf("(dot) result = %q, want kernel resolution", r.Result)
	}

	r = replies["(stroke 90 1)"]
	if r.Err != "" {
		t.Fatalf("(stroke 90 1) failed: %s", r.Err)
	}
	if !strings.Contains(r.Result, "kernel stroke-90x1") {
		t.Fatalf("(stroke 90 1) result = %q, want kernel resolution", r.Result)
	}
}

func TestServeIsolatesMessageFailures(t *testing.T) {
	svc := testService(t, "(canvas (stroke 90 1) (dot))")
	replies := serveAndCollect(t, svc, []string{
		"((",       // parse failure
		"(nope 1)", // unresolvable kernel
		"(dot)",    // healthy
	})

	if replies["(("].Err == "" {
		t.Fatal("malformed payload produced no error reply")
	}
	if r := replies["(nope 1)"]; !strings.Contains(r.Err, "no mounted kernel") {
		t.Fatalf("(nope 1) error = %q, want resolution failure", r.Err)
	}
	if r := replies["(dot)"]; r.Err != "" || r.Result == "" {
		t.Fatalf("(dot) after failures = %+v, want a result", r)
	}
}

func TestHotSwap(t *testing.T) {
	svc := testService(t, "(canvas (stroke 90 1) (dot))")

	next := compileSet(t, "(canvas (glow 7) (dot))")
	if err := svc.Swap(next); err != nil {
		t.Fatalf("Swap: %v", err)
	}

	replies := serveAndCollect(t, svc, []string{"(glow 7)", "(stroke 90 1)", "(dot)"})
	if r := replies["(glow 7)"]; !strings.Contains(r.Result, "kernel glow-7") {
		t.Fatalf("(glow 7) after swap = %+v, want resolution", r)
	}
	if r := replies["(stroke 90 1)"]; r.Err == "" {
		t.Fatalf("(stroke 90 1) resolved after swap away: %+v", r)
	}
	if r := replies["(dot)"]; r.Err != "" {
		t.Fatalf("(dot) survived in both sets but failed: %s", r.Err)
	}
}

func TestSwapRejectsInvalidState(t *testing.T) {
	svc := NewService(Options{Logger: quietLogger()})
	set := compileSet(t, "(canvas (dot))")

	var merr *MountError
	if err := svc.Swap(set); !errors.As(err, &merr) {
		t.Fatalf("Swap before mount = %v, want MountError", err)
	}
}

func TestStopEndsServe(t *testing.T) {
	svc := testService(t, "(canvas (dot))")
	src := NewChanSource(0)
	sink := NewChanSink(0)

	done := make(chan error, 1)
	go func() { done <- svc.Serve(context.Background(), src, sink) }()

	// Stop while the loop is blocked in Recv.
	time.Sleep(10 * time.Millisecond)
	svc.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve after Stop = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}
	if svc.State() != Stopped {
		t.Fatalf("state = %v, want %v", svc.State(), Stopped)
	}
}
