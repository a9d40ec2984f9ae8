// Package config defines the explicit, validated construction parameters
// for a Cupcake engine. Every field here is security-affecting and must
// be supplied by the caller; none are read from the environment, per the
// "ambient configuration is a security hole" design note: an agent able
// to influence its own process environment must not be able to widen its
// own sandbox limits or redirect the policy compiler out from under it.
package config

import (
	"fmt"
	"time"
)

// Harness enumerates the closed set of supported harness adapters.
type Harness string

const (
	HarnessClaudeCode Harness = "claude-code"
	HarnessCursor      Harness = "cursor"
	HarnessOpenCode    Harness = "opencode"
	HarnessFactoryAI   Harness = "factory-ai"
)

// TraceLevel controls the verbosity of engine-internal tracing.
type TraceLevel string

const (
	TraceOff     TraceLevel = "off"
	TraceOn      TraceLevel = "on"
	TraceVerbose TraceLevel = "verbose"
)

const (
	// MinWasmMemory is the minimum sandbox memory ceiling (spec.md §4.6).
	MinWasmMemory = 1 << 20 // 1 MiB
	// MaxWasmMemory is the maximum sandbox memory ceiling (spec.md §4.6).
	MaxWasmMemory = 100 << 20 // 100 MiB

	// DefaultSignalTimeout is the fallback per-signal timeout (spec.md §4.5).
	DefaultSignalTimeout = 5 * time.Second

	// DefaultCPUTimeLimit bounds sandbox evaluation wall-clock time.
	DefaultCPUTimeLimit = 2 * time.Second
)

// Config is the full, explicit construction input for an Engine. Nothing
// in this struct is ever defaulted from an environment variable.
type Config struct {
	// PolicyDir is the directory containing project policy sources.
	PolicyDir string
	// GlobalConfigDir, if non-empty, enables the global policy layer (C10).
	GlobalConfigDir string

	// WasmMaxMemory is the sandbox memory ceiling in bytes. Must lie in
	// [MinWasmMemory, MaxWasmMemory]; validated once at construction.
	WasmMaxMemory int64
	// CPUTimeLimit bounds a single sandbox evaluation.
	CPUTimeLimit time.Duration

	// OPAPath is the path to the external policy compiler binary.
	OPAPath string

	// LogLevel is ambient and not security-affecting; it is taken only
	// from this field (no environment variable is consulted).
	LogLevel string
	Trace    TraceLevel
	DebugFiles   bool
	DebugRouting bool

	Harness Harness

	// TrustEnabled turns on C11 script verification. When false, no
	// script is verified whatever the manifest on disk says; when true,
	// the persisted manifest mode decides, and with no manifest on disk
	// no script is verified.
	TrustEnabled bool
}

// Validate checks all security-affecting fields, failing engine
// construction (never mid-evaluation) per spec.md §7 ConfigError.
func (c Config) Validate() error {
	if c.PolicyDir == "" {
		return fmt.Errorf("config: policy_dir is required")
	}
	if c.WasmMaxMemory < MinWasmMemory || c.WasmMaxMemory > MaxWasmMemory {
		return fmt.Errorf("config: wasm_max_memory %d out of range [%d, %d]",
			c.WasmMaxMemory, MinWasmMemory, MaxWasmMemory)
	}
	switch c.Harness {
	case HarnessClaudeCode, HarnessCursor, HarnessOpenCode, HarnessFactoryAI:
	default:
		return fmt.Errorf("config: unknown harness %q", c.Harness)
	}
	switch c.Trace {
	case "", TraceOff, TraceOn, TraceVerbose:
	default:
		return fmt.Errorf("config: unknown trace level %q", c.Trace)
	}
	return nil
}

// WithDefaults fills non-security-affecting fields (timeouts, log level)
// with safe defaults without touching the environment.
func (c Config) WithDefaults() Config {
	if c.CPUTimeLimit <= 0 {
		c.CPUTimeLimit = DefaultCPUTimeLimit
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Trace == "" {
		c.Trace = TraceOff
	}
	return c
}
