// Package signals implements the Signal broker (spec.md §4.5, C5):
// concurrent execution of external signal commands with per-signal
// timeouts, JSON-or-string output capture, and optional trust gating
// (spec.md §4.11) before spawning. Uses golang.org/x/sync/errgroup for
// the concurrent fan-out instead of a hand-rolled sync.WaitGroup; a
// failing signal is logged and omitted, never propagated as an error.
package signals

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

// Spec is one signal's command definition (spec.md §6 guidebook format).
type Spec struct {
	Name            string
	Command         []string
	TimeoutSeconds  int
	WorkingDir      string
}

const defaultTimeout = 5 * time.Second

// MaxOutputBytes caps captured stdout per signal.
const MaxOutputBytes = 1 << 20 // 1 MiB

// Verifier, when non-nil, is consulted before a signal script is
// spawned (spec.md §4.5's trust-gating rule, §4.11). It returns an
// error if the command must not be trusted.
type Verifier func(spec Spec) error

// Broker executes the signal commands named by required and returns a
// map name -> parsed value injected under input.signals. Per spec.md
// §4.5: all signals are launched in parallel; every signal completes
// (success, timeout, or failure) before this call returns; failures are
// logged and the signal is simply omitted, never surfaced as a hard
// evaluation error.
func Broker(ctx context.Context, required []string, defs map[string]Spec, verify Verifier, logger *slog.Logger) map[string]any {
	if logger == nil {
		logger = slog.Default()
	}
	results := make(map[string]any, len(required))
	var mu sync.Mutex

	var g errgroup.Group

	for _, name := range required {
		name := name
		spec, ok := defs[name]
		if !ok {
			logger.Warn("signals: no definition for required signal", "signal", name)
			continue
		}
		g.Go(func() error {
			value, err := runOne(ctx, spec, verify, logger)
			if err != nil {
				logger.Warn("signals: signal failed", "signal", name, "err", err)
				return nil // localized failure; never fails the group (spec.md §4.5, §7)
			}
			mu.Lock()
			results[name] = value
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // runOne never returns a non-nil error; Wait only blocks for completion

	return results
}

func runOne(parent context.Context, spec Spec, verify Verifier, logger *slog.Logger) (any, error) {
	if verify != nil {
		if err := verify(spec); err != nil {
			return nil, err
		}
	}
	if len(spec.Command) == 0 {
		return nil, errNoCommand
	}

	timeout := defaultTimeout
	if spec.TimeoutSeconds > 0 {
		timeout = time.Duration(spec.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.WorkingDir
	cmd.Env = filteredEnv()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if stderr.Len() > 0 {
		logger.Debug("signals: stderr output", "signal", spec.Name, "stderr", stderr.String())
	}
	if err != nil {
		return nil, err
	}

	return parseOutput(capOutput(stdout.Bytes())), nil
}

func capOutput(b []byte) []byte {
	if len(b) > MaxOutputBytes {
		return b[:MaxOutputBytes]
	}
	return b
}

// parseOutput attempts JSON, falling back to a (possibly lossily
// decoded) string, per spec.md §4.5.
func parseOutput(b []byte) any {
	var v any
	if err := json.Unmarshal(b, &v); err == nil {
		return v
	}
	if utf8.Valid(b) {
		return string(b)
	}
	return toValidUTF8(b)
}

func toValidUTF8(b []byte) string {
	out := make([]rune, 0, len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		out = append(out, r)
		b = b[size:]
	}
	return string(out)
}

func filteredEnv() []string {
	// Minimal, explicit environment for signal subprocesses. Security-
	// relevant engine configuration never flows to signals (spec.md §9).
	return []string{"PATH=" + os.Getenv("PATH")}
}

var errNoCommand = &emptyCommandError{}

type emptyCommandError struct{}

func (e *emptyCommandError) Error() string { return "signals: empty command" }
