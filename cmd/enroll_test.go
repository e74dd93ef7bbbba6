package cmd

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/example/facegate/internal/faceid"
	"github.com/example/facegate/internal/usecase"
)

func TestPromptString(t *testing.T) {
	var out bytes.Buffer
	got, err := promptString(bufio.NewReader(strings.NewReader("  alice \n")), &out, "Enter username: ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "alice" {
		t.Fatalf("expected alice, got %q", got)
	}
	if out.String() != "Enter username: " {
		t.Fatalf("unexpected prompt %q", out.String())
	}

	if _, err := promptString(bufio.NewReader(strings.NewReader("\n")), &out, ""); !errors.Is(err, faceid.ErrInvalidIdentity) {
		t.Fatalf("expected invalid identity, got %v", err)
	}
}

func TestPromptStringAcceptsInputWithoutNewline(t *testing.T) {
	got, err := promptString(bufio.NewReader(strings.NewReader("bob")), &bytes.Buffer{}, "")
	if err != nil || got != "bob" {
		t.Fatalf("expected bob, got %q err=%v", got, err)
	}
}

func TestPromptInt(t *testing.T) {
	got, err := promptInt(bufio.NewReader(strings.NewReader("5\n")), &bytes.Buffer{}, "")
	if err != nil || got != 5 {
		t.Fatalf("expected 5, got %d err=%v", got, err)
	}

	for _, input := range []string{"zero\n", "0\n", "-3\n", ""} {
		if _, err := promptInt(bufio.NewReader(strings.NewReader(input)), &bytes.Buffer{}, ""); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
	if _, err := promptInt(bufio.NewReader(strings.NewReader("x\n")), &bytes.Buffer{}, ""); !errors.Is(err, usecase.ErrInvalidSampleCount) {
		t.Fatalf("expected invalid sample count, got %v", err)
	}
}

func TestConsoleObserver(t *testing.T) {
	var out bytes.Buffer
	observe := consoleObserver(&out)
	observe(usecase.EnrollmentEvent{Slot: 1, Attempts: 3, Stored: true})
	observe(usecase.EnrollmentEvent{Slot: 2, Attempts: 3, Err: faceid.ErrNoFace})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], "saved") || !strings.Contains(lines[1], "no face") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}
