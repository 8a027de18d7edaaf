// Package baseline records per-service verdicts so later runs can detect
// conformance drift.
package baseline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/gowebpki/jcs"

	"odatacheck/internal/rules"
)

// FormatVersion is bumped when the snapshot layout changes.
const FormatVersion = 1

// Snapshot maps service root to rule ID to verdict.
type Snapshot struct {
	Version  int                                 `json:"version"`
	Digest   string                              `json:"digest,omitempty"`
	Verdicts map[string]map[string]rules.Verdict `json:"verdicts"`
}

// Drift is one rule whose verdict differs from the baseline.
type Drift struct {
	Service  string        `json:"service"`
	RuleID   string        `json:"rule_id"`
	Previous rules.Verdict `json:"previous"`
	Current  rules.Verdict `json:"current"`
}

// Regressed reports whether the rule moved away from Pass.
func (d Drift) Regressed() bool {
	return d.Previous == rules.VerdictPass && d.Current != rules.VerdictPass
}

// NewSnapshot builds a snapshot from results. Waived results are recorded
// as their reported verdict.
func NewSnapshot(results []rules.Result) Snapshot {
	s := Snapshot{Version: FormatVersion, Verdicts: make(map[string]map[string]rules.Verdict)}
	for _, r := range results {
		if r.Service == "" || r.RuleID == "" {
			continue
		}
		m := s.Verdicts[r.Service]
		if m == nil {
			m = make(map[string]rules.Verdict)
			s.Verdicts[r.Service] = m
		}
		m[r.RuleID] = r.Verdict
	}
	return s
}

// Digest is the sha256 of the RFC 8785 canonical form of the verdict map,
// so it is stable across map ordering and whitespace.
func Digest(verdicts map[string]map[string]rules.Verdict) (string, error) {
	if verdicts == nil {
		verdicts = map[string]map[string]rules.Verdict{}
	}
	raw, err := json.Marshal(verdicts)
	if err != nil {
		return "", fmt.Errorf("marshal verdicts: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize verdicts: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Seal fills in Digest.
func (s *Snapshot) Seal() error {
	d, err := Digest(s.Verdicts)
	if err != nil {
		return err
	}
	s.Digest = d
	return nil
}

// Write seals s and stores it at path.
func Write(path string, s Snapshot) error {
	if s.Version == 0 {
		s.Version = FormatVersion
	}
	if err := s.Seal(); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal baseline: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create baseline directory: %w", err)
		}
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("write baseline: %w", err)
	}
	return nil
}

// Load reads a snapshot and rejects it when its digest does not match the
// recorded verdicts.
func Load(path string) (Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read baseline: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode baseline %s: %w", path, err)
	}
	if s.Version != FormatVersion {
		return Snapshot{}, fmt.Errorf("baseline %s: unsupported version %d", path, s.Version)
	}
	if s.Digest != "" {
		want, err := Digest(s.Verdicts)
		if err != nil {
			return Snapshot{}, err
		}
		if want != s.Digest {
			return Snapshot{}, fmt.Errorf("baseline %s: digest mismatch (file was edited by hand?)", path)
		}
	}
	if s.Verdicts == nil {
		s.Verdicts = make(map[string]map[string]rules.Verdict)
	}
	return s, nil
}

// Compare lists rules evaluated in both snapshots whose verdict changed.
// Rules or services present in only one snapshot are not drift: selection
// and targeting may legitimately differ between runs.
func Compare(previous, current Snapshot) []Drift {
	var out []Drift
	for svc, cur := range current.Verdicts {
		prev, ok := previous.Verdicts[svc]
		if !ok {
			continue
		}
		for id, v := range cur {
			p, ok := prev[id]
			if !ok || p == v {
				continue
			}
			out = append(out, Drift{Service: svc, RuleID: id, Previous: p, Current: v})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Service != out[j].Service {
			return out[i].Service < out[j].Service
		}
		return out[i].RuleID < out[j].RuleID
	})
	return out
}
