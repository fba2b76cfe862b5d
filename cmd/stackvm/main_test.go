package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHelpFlagExitsZero(t *testing.T) {
	if got := run([]string{"-h"}); got != 0 {
		t.Errorf("run([-h]) = %d, want 0", got)
	}
	if got := run([]string{"--help"}); got != 0 {
		t.Errorf("run([--help]) = %d, want 0", got)
	}
}

func TestNoModeFlagExitsTwo(t *testing.T) {
	if got := run([]string{"input.asm"}); got != 2 {
		t.Errorf("run with no mode flag = %d, want 2", got)
	}
}

func TestMultipleModeFlagsExitsTwo(t *testing.T) {
	if got := run([]string{"-a", "-r", "input.asm"}); got != 2 {
		t.Errorf("run with both -a and -r = %d, want 2", got)
	}
}

func TestAssembleRunRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "prog.asm")
	out := filepath.Join(dir, "prog.bin")

	if err := os.WriteFile(src, []byte("pushd16 3\nsyscall 60"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if got := run([]string{"-a", "-o", out, src}); got != 0 {
		t.Fatalf("assemble = %d, want 0", got)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("expected bytecode output at %s: %v", out, err)
	}

	if got := run([]string{"-r", out}); got != 3 {
		t.Errorf("run bytecode = %d, want 3 (from exit syscall)", got)
	}
}

func TestAssembleAndRunExitCode(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "prog.asm")
	if err := os.WriteFile(src, []byte("pushd16 5\nsyscall 60"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if got := run([]string{"-ar", src}); got != 5 {
		t.Errorf("run -ar = %d, want 5", got)
	}
}

func TestAssembleFailureExitsOne(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "bad.asm")
	if err := os.WriteFile(src, []byte("bogus"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if got := run([]string{"-a", src}); got != 1 {
		t.Errorf("run -a on bad source = %d, want 1", got)
	}
}
