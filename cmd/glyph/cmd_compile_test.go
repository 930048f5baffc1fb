package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func chdirForTest(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(old) })
}

func writeSourceFile(t *testing.T, path, src string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
}

func runCmd(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCompileCmdThenVerify(t *testing.T) {
	dir := t.TempDir()
	chdirForTest(t, dir)
	writeSourceFile(t, filepath.Join(dir, "glyphs.sexp"), "(canvas (stroke 90 1) (dot) (dot))")

	out, err := runCmd(t, newCompileCmd(), "glyphs.sexp")
	if err != nil {
		t.Fatalf("compile Execute: %v\noutput:\n%s", err, out)
	}
	if !strings.Contains(out, "lowered") || !strings.Contains(out, "stroke-90x1") {
		t.Fatalf("compile output = %q, want lowered stroke-90x1", out)
	}
	if !strings.Contains(out, "2 kernel(s), 3 reference(s)") {
		t.Fatalf("compile output = %q, want dedupe summary", out)
	}

	// Second pass over the same source hits the cache throughout.
	out, err = runCmd(t, newCompileCmd(), "glyphs.sexp")
	if err != nil {
		t.Fatalf("second compile Execute: %v\noutput:\n%s", err, out)
	}
	if !strings.Contains(out, "2 hit, 0 lowered") {
		t.Fatalf("second compile output = %q, want all hits", out)
	}

	out, err = runCmd(t, newVerifyCmd())
	if err != nil {
		t.Fatalf("verify Execute: %v\noutput:\n%s", err, out)
	}
	if !strings.Contains(out, "ok: verified 2 artifact(s)") {
		t.Fatalf("verify output = %q", out)
	}
}

func TestVerifyCmdReportsCorruptArtifact(t *testing.T) {
	dir := t.TempDir()
	chdirForTest(t, dir)
	writeSourceFile(t, filepath.Join(dir, "glyphs.sexp"), "(canvas (dot))")

	if out, err := runCmd(t, newCompileCmd(), "glyphs.sexp"); err != nil {
		t.Fatalf("compile Execute: %v\noutput:\n%s", err, out)
	}

	matches, err := filepath.Glob(filepath.Join(dir, ".glyph", "form", "*.kernel"))
	if err != nil || len(matches) == 0 {
		t.Fatalf("no artifacts found: %v", err)
	}
	if err := os.WriteFile(matches[0], []byte("garbage"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	out, err := runCmd(t, newVerifyCmd())
	if err == nil {
		t.Fatalf("verify on corrupt store succeeded:\n%s", out)
	}
	if !strings.Contains(out, "corrupt:") {
		t.Fatalf("verify output = %q, want corrupt report", out)
	}
}

func TestCanonCmdPrintsDigest(t *testing.T) {
	dir := t.TempDir()
	chdirForTest(t, dir)
	writeSourceFile(t, filepath.Join(dir, "a.sexp"), "(+ 2 1)")
	writeSourceFile(t, filepath.Join(dir, "b.sexp"), "(+ 1 2)")

	outA, err := runCmd(t, newCanonCmd(), "a.sexp")
	if err != nil {
		t.Fatalf("canon Execute: %v", err)
	}
	outB, err := runCmd(t, newCanonCmd(), "b.sexp")
	if err != nil {
		t.Fatalf("canon Execute: %v", err)
	}
	// Commutative operands normalize to one canonical text and digest.
	if outA != outB {
		t.Fatalf("canon outputs differ:\n%s\n%s", outA, outB)
	}
	lines := strings.Split(strings.TrimSpace(outA), "\n")
	if len(lines) != 2 || len(lines[1]) != 32 {
		t.Fatalf("canon output = %q, want form and 32-char digest", outA)
	}
}
