// Package trust implements the Trust verifier (spec.md §4.11, C11): an
// HMAC-sealed manifest of signal/action script hashes, checked before
// each trust-gated execution: a hash-then-verify shape akin to
// borisdali-helpdesk's audit.ComputeEventHash/VerifyChain
// (envelope-excludes-its-own-hash-field, tamper-detection idiom).
// Cupcake's trust model is a single machine-bound secret rather than a
// multi-party signing root, so symmetric HMAC-SHA256 replaces
// asymmetric signature verification (spec.md §3, DESIGN.md).
package trust

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cupcake-run/cupcake/pkg/actions"
	"github.com/cupcake-run/cupcake/pkg/canonicalize"
	"github.com/cupcake-run/cupcake/pkg/cupcakeerr"
	"github.com/cupcake-run/cupcake/pkg/signals"
)

// Mode is the manifest's persisted operating mode (spec.md §4.11).
type Mode string

const (
	ModeEnabled  Mode = "enabled"
	ModeDisabled Mode = "disabled"
)

// EntryKind classifies how a script invocation's hash is computed
// (spec.md §3).
type EntryKind string

const (
	EntryInline  EntryKind = "inline"
	EntryFile    EntryKind = "file"
	EntryComplex EntryKind = "complex"
)

// Category distinguishes the two script namespaces the manifest tracks.
type Category string

const (
	CategorySignals Category = "signals"
	CategoryActions Category = "actions"
)

const schemaVersion = 1

const keyDerivationPrefix = "CUPCAKE_TRUST_V1"

// Entry is one tracked script's trust record (spec.md §3).
type Entry struct {
	Kind EntryKind `json:"kind"`

	// inline
	Command string `json:"command,omitempty"`
	Hash    string `json:"hash,omitempty"`

	// file
	Path         string    `json:"path,omitempty"`
	AbsolutePath string    `json:"absolute_path,omitempty"`
	Size         int64     `json:"size,omitempty"`
	Modified     time.Time `json:"modified,omitempty"`

	// complex
	Interpreter    string   `json:"interpreter,omitempty"`
	ScriptPath     string   `json:"script_path,omitempty"`
	ScriptResolved string   `json:"script_resolved,omitempty"`
	ScriptHash     string   `json:"script_hash,omitempty"`
	Args           []string `json:"args,omitempty"`
}

// Manifest is the persisted trust record (spec.md §3). The HMAC is
// never a field of Manifest itself: it is computed over Manifest's
// canonical JSON body and appended as a trailing line on disk, so the
// body the HMAC covers never needs to "exclude its own hash field".
type Manifest struct {
	SchemaVersion int                              `json:"schema_version"`
	Timestamp     time.Time                        `json:"timestamp"`
	Mode          Mode                              `json:"mode"`
	Scripts       map[Category]map[string]Entry    `json:"scripts"`
}

func newManifest(mode Mode) Manifest {
	return Manifest{
		SchemaVersion: schemaVersion,
		Timestamp:     time.Now(),
		Mode:          mode,
		Scripts: map[Category]map[string]Entry{
			CategorySignals: {},
			CategoryActions: {},
		},
	}
}

// Store binds a manifest to a file path and the key material needed to
// seal/verify it.
type Store struct {
	Path        string
	BinaryPath  string
	ProjectPath string
}

// deriveKey implements spec.md §3's key derivation exactly:
// sha256("CUPCAKE_TRUST_V1" || binary_path || machine_id || username || project_path).
func (s *Store) deriveKey() []byte {
	username := "unknown"
	if u, err := user.Current(); err == nil {
		username = u.Username
	}
	h := sha256.New()
	h.Write([]byte(keyDerivationPrefix))
	h.Write([]byte(s.BinaryPath))
	h.Write([]byte(machineID()))
	h.Write([]byte(username))
	h.Write([]byte(s.ProjectPath))
	return h.Sum(nil)
}

func computeHMAC(key, body []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

const hmacLinePrefix = "# hmac-sha256: "

// Load reads the manifest from disk and verifies its HMAC. A missing
// file yields TrustNotInitialized. An HMAC mismatch yields
// TrustTampered and the caller must treat every script as untrusted
// (spec.md §4.11, fail closed).
func (s *Store) Load() (Manifest, error) {
	raw, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return Manifest{}, cupcakeerr.Trust(cupcakeerr.TrustNotInitialized, "no trust manifest present", nil)
	}
	if err != nil {
		return Manifest{}, cupcakeerr.Trust(cupcakeerr.TrustNotInitialized, "failed to read trust manifest", err)
	}

	body, storedMAC, err := splitManifest(raw)
	if err != nil {
		return Manifest{}, cupcakeerr.Trust(cupcakeerr.TrustTampered, "malformed trust manifest", err)
	}

	key := s.deriveKey()
	computed := computeHMAC(key, body)
	if !hmac.Equal([]byte(computed), []byte(storedMAC)) {
		return Manifest{}, cupcakeerr.Trust(cupcakeerr.TrustTampered, "trust manifest HMAC mismatch", nil)
	}

	var m Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return Manifest{}, cupcakeerr.Trust(cupcakeerr.TrustTampered, "trust manifest body is not valid JSON", err)
	}
	return m, nil
}

// Save writes the manifest's canonical body followed by a trailing
// HMAC line (spec.md §3's on-disk format), recomputing the HMAC every
// time (spec.md §4.11 invariant (b)/(ii)).
func (s *Store) Save(m Manifest) error {
	body, err := canonicalize.JCS(m)
	if err != nil {
		return cupcakeerr.New(cupcakeerr.KindTrust, "failed to canonicalize trust manifest", err)
	}
	mac := computeHMAC(s.deriveKey(), body)
	content := append(append([]byte{}, body...), []byte("\n"+hmacLinePrefix+mac+"\n")...)
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return cupcakeerr.New(cupcakeerr.KindTrust, "failed to create trust manifest directory", err)
	}
	if err := os.WriteFile(s.Path, content, 0o600); err != nil {
		return cupcakeerr.New(cupcakeerr.KindTrust, "failed to write trust manifest", err)
	}
	return nil
}

func splitManifest(raw []byte) (body []byte, mac string, err error) {
	s := string(raw)
	idx := strings.LastIndex(s, "\n"+hmacLinePrefix)
	if idx < 0 {
		return nil, "", &malformedError{"missing hmac line"}
	}
	body = []byte(s[:idx])
	rest := s[idx+1:]
	mac = strings.TrimSuffix(strings.TrimPrefix(rest, hmacLinePrefix), "\n")
	return body, mac, nil
}

type malformedError struct{ msg string }

func (e *malformedError) Error() string { return e.msg }

// Init scans the given signal and action specs, builds a fresh
// manifest in ModeEnabled, and persists it (spec.md §4.11 `init`).
func (s *Store) Init(signalSpecs map[string]signals.Spec, actionSpecs []actions.Spec) error {
	m := newManifest(ModeEnabled)
	populate(&m, signalSpecs, actionSpecs)
	return s.Save(m)
}

// Update recomputes every tracked entry's hash from the live commands,
// preserving the manifest's current mode (spec.md §4.11 `update`,
// "recompute allowed after explicit approval" — approval is the
// caller's responsibility; Update performs the recompute only).
func (s *Store) Update(signalSpecs map[string]signals.Spec, actionSpecs []actions.Spec) error {
	m, err := s.Load()
	if err != nil && !errorsIsNotInitialized(err) {
		return err
	}
	mode := ModeEnabled
	if err == nil {
		mode = m.Mode
	}
	fresh := newManifest(mode)
	populate(&fresh, signalSpecs, actionSpecs)
	return s.Save(fresh)
}

func errorsIsNotInitialized(err error) bool {
	var e *cupcakeerr.Error
	return errors.As(err, &e) && e.Kind == cupcakeerr.KindTrust && e.SubKind == cupcakeerr.TrustNotInitialized
}

func populate(m *Manifest, signalSpecs map[string]signals.Spec, actionSpecs []actions.Spec) {
	for name, spec := range signalSpecs {
		m.Scripts[CategorySignals][name] = buildEntry(spec.Command)
	}
	for _, spec := range actionSpecs {
		name := spec.RuleID
		if name == "" {
			name = spec.Verb
		}
		m.Scripts[CategoryActions][name] = buildEntry(spec.Command)
	}
}

// Enable flips the manifest to ModeEnabled and persists the change
// (spec.md §4.11 `enable`; invariant (iii), disabling/enabling persists
// rather than merely suspending runtime checks).
func (s *Store) Enable() error { return s.setMode(ModeEnabled) }

// Disable flips the manifest to ModeDisabled and persists the change
// (spec.md §4.11 `disable`).
func (s *Store) Disable() error { return s.setMode(ModeDisabled) }

func (s *Store) setMode(mode Mode) error {
	m, err := s.Load()
	if err != nil {
		if !errorsIsNotInitialized(err) {
			return err
		}
		m = newManifest(mode)
	}
	m.Mode = mode
	m.Timestamp = time.Now()
	return s.Save(m)
}

// Reset removes the manifest file, returning to the uninitialized state
// (spec.md §4.11 `reset`). It removes the file without asking for
// confirmation, and `cupcake trust reset` does not prompt either.
func (s *Store) Reset() error {
	if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
		return cupcakeerr.New(cupcakeerr.KindTrust, "failed to remove trust manifest", err)
	}
	return nil
}

// DiffEntry reports one script's manifest-vs-live-hash comparison, used
// by `list --diff` and `verify` (spec.md §4.11, SPEC_FULL.md
// SUPPLEMENTED FEATURES).
type DiffEntry struct {
	Category Category
	Name     string
	Stored   Entry
	Live     Entry
	Changed  bool
	Missing  bool // no stored entry for this name
}

// Verify compares every live signal and action command against its
// manifest entry, reporting drift and missing entries without mutating
// the manifest (spec.md §4.11 `verify`). Manifest entries with no
// corresponding live command are not reported.
func (s *Store) Verify(signalSpecs map[string]signals.Spec, actionSpecs []actions.Spec) ([]DiffEntry, error) {
	m, err := s.Load()
	if err != nil {
		return nil, err
	}
	var diffs []DiffEntry
	for name, spec := range signalSpecs {
		stored, ok := m.Scripts[CategorySignals][name]
		live := buildEntry(spec.Command)
		diffs = append(diffs, DiffEntry{
			Category: CategorySignals, Name: name, Stored: stored, Live: live,
			Missing: !ok, Changed: ok && entryHash(stored) != entryHash(live),
		})
	}
	for _, spec := range actionSpecs {
		name := spec.RuleID
		if name == "" {
			name = spec.Verb
		}
		stored, ok := m.Scripts[CategoryActions][name]
		live := buildEntry(spec.Command)
		diffs = append(diffs, DiffEntry{
			Category: CategoryActions, Name: name, Stored: stored, Live: live,
			Missing: !ok, Changed: ok && entryHash(stored) != entryHash(live),
		})
	}
	sort.Slice(diffs, func(i, j int) bool {
		if diffs[i].Category != diffs[j].Category {
			return diffs[i].Category < diffs[j].Category
		}
		return diffs[i].Name < diffs[j].Name
	})
	return diffs, nil
}

// List enumerates tracked entries, optionally diffing each against its
// live hash (SPEC_FULL.md SUPPLEMENTED FEATURES: `trust list --diff`).
func (s *Store) List(liveDiff bool, signalSpecs map[string]signals.Spec, actionSpecs []actions.Spec) ([]DiffEntry, error) {
	if liveDiff {
		return s.Verify(signalSpecs, actionSpecs)
	}
	m, err := s.Load()
	if err != nil {
		return nil, err
	}
	var out []DiffEntry
	for cat, entries := range m.Scripts {
		for name, e := range entries {
			out = append(out, DiffEntry{Category: cat, Name: name, Stored: e})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func entryHash(e Entry) string {
	switch e.Kind {
	case EntryFile:
		return e.Hash
	case EntryComplex:
		return e.ScriptHash
	default:
		return e.Hash
	}
}

// VerifySignal returns a signals.Verifier: it classifies each spec's
// command the same way buildEntry does, looks up the stored entry by
// the spec's own Name, and refuses execution on any mismatch or
// missing entry (spec.md §4.11 "per-script verification").
func (s *Store) VerifySignal() signals.Verifier {
	return func(spec signals.Spec) error {
		return s.verifyByName(CategorySignals, spec.Name, spec.Command)
	}
}

// VerifyAction is an actions.Verifier counterpart to VerifySignal.
func (s *Store) VerifyAction() actions.Verifier {
	return func(spec actions.Spec) error {
		name := spec.RuleID
		if name == "" {
			name = spec.Verb
		}
		return s.verifyByName(CategoryActions, name, spec.Command)
	}
}

func (s *Store) verifyByName(cat Category, name string, command []string) error {
	m, err := s.Load()
	if err != nil {
		return err
	}
	if m.Mode == ModeDisabled {
		return nil
	}
	stored, ok := m.Scripts[cat][name]
	if !ok {
		return cupcakeerr.Trust(cupcakeerr.TrustScriptNotFound, "no trust entry for "+string(cat)+"/"+name, nil)
	}
	live := buildEntry(command)
	if entryHash(stored) != entryHash(live) {
		return cupcakeerr.Trust(cupcakeerr.TrustScriptModified, string(cat)+"/"+name+" has changed since it was trusted", nil)
	}
	return nil
}

// IsEnabled reports whether the manifest on disk has trust checking
// turned on. Missing manifest or disabled mode both mean "unverified,
// trust off" and report no error. A tampered manifest is not
// "unverified" — it is reported as an error so the caller fails closed
// instead of silently running as if trust were off (spec.md §4.11, §7).
func (s *Store) IsEnabled() (bool, error) {
	m, err := s.Load()
	if err != nil {
		var e *cupcakeerr.Error
		if errors.As(err, &e) && e.SubKind == cupcakeerr.TrustTampered {
			return false, err
		}
		return false, nil
	}
	return m.Mode == ModeEnabled, nil
}

var interpreters = map[string]struct{}{
	"bash": {}, "sh": {}, "zsh": {}, "python": {}, "python3": {}, "node": {}, "ruby": {}, "perl": {},
}

// buildEntry classifies a command the same way spec.md §4.1's script
// inspection does (inline / file / complex), per §3's entry shapes.
func buildEntry(cmd []string) Entry {
	if len(cmd) == 0 {
		return Entry{Kind: EntryInline}
	}

	if len(cmd) >= 2 {
		if _, ok := interpreters[filepath.Base(cmd[0])]; ok {
			scriptPath := cmd[1]
			resolved, err := filepath.EvalSymlinks(scriptPath)
			if err != nil {
				resolved = scriptPath
			}
			if data, err := os.ReadFile(resolved); err == nil {
				return Entry{
					Kind:           EntryComplex,
					Command:        strings.Join(cmd, " "),
					Interpreter:    cmd[0],
					ScriptPath:     scriptPath,
					ScriptResolved: resolved,
					ScriptHash:     sha256Hex(data),
					Args:           cmd[2:],
				}
			}
		}
	}

	if len(cmd) == 1 {
		if info, err := os.Stat(cmd[0]); err == nil && !info.IsDir() {
			if data, err := os.ReadFile(cmd[0]); err == nil {
				abs, _ := filepath.Abs(cmd[0])
				return Entry{
					Kind: EntryFile, Path: cmd[0], AbsolutePath: abs,
					Hash: sha256Hex(data), Size: info.Size(), Modified: info.ModTime(),
				}
			}
		}
	}

	joined := strings.Join(cmd, " ")
	return Entry{Kind: EntryInline, Command: joined, Hash: sha256Hex([]byte(joined))}
}

func sha256Hex(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}
