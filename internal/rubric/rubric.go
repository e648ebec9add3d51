package rubric

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

type Document struct {
	Repo  string
	Path  string
	Tests []TestSpec
}

type TestSpec struct {
	ID       string
	Type     string
	Check    Check
	Score    float64
	Category string
	Requires []string
	Timeout  time.Duration
}

// RequireSet returns the declared prerequisites as a set.
func (t *TestSpec) RequireSet() mapset.Set[string] {
	return mapset.NewThreadUnsafeSet(t.Requires...)
}

// MaxScore is the sum of declared weights, regardless of outcome.
func (d *Document) MaxScore() float64 {
	var total float64
	for _, t := range d.Tests {
		total += t.Score
	}
	return total
}

// Lookup returns the test with the given id.
func (d *Document) Lookup(id string) (*TestSpec, bool) {
	for i := range d.Tests {
		if d.Tests[i].ID == id {
			return &d.Tests[i], true
		}
	}
	return nil, false
}

// ConfigError reports a rubric that cannot be evaluated at all.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid rubric: %v", e.Err)
	}
	return fmt.Sprintf("invalid rubric %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigError reports whether err originates from rubric loading.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// PathFor resolves the rubric file for a repository inside dir.
func PathFor(dir, repo string) string {
	return filepath.Join(dir, repo+".json")
}

type rawDocument struct {
	Repo  string    `json:"repo"`
	Tests []rawTest `json:"tests"`
}

type rawTest struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Params   json.RawMessage `json:"params"`
	Score    *float64        `json:"score"`
	Category string          `json:"category"`
	Requires []string        `json:"requires"`
	Timeout  *float64        `json:"timeout"`
}

// Load reads and validates a rubric file. Tests without a timeout get
// defaultTimeout.
func Load(path string, defaultTimeout time.Duration) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	doc, err := Parse(data, defaultTimeout)
	if err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) {
			ce.Path = path
		}
		return nil, err
	}
	doc.Path = path
	return doc, nil
}

func Parse(data []byte, defaultTimeout time.Duration) (*Document, error) {
	var raw rawDocument
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("parsing JSON: %w", err)}
	}
	if len(raw.Tests) == 0 {
		return nil, &ConfigError{Err: errors.New("no tests defined")}
	}

	doc := &Document{Repo: raw.Repo, Tests: make([]TestSpec, 0, len(raw.Tests))}
	seen := mapset.NewThreadUnsafeSet[string]()
	for i, rt := range raw.Tests {
		if rt.ID == "" {
			return nil, &ConfigError{Err: fmt.Errorf("test %d: id is required", i)}
		}
		if rt.Type == "" {
			return nil, &ConfigError{Err: fmt.Errorf("test %q: type is required", rt.ID)}
		}
		if !seen.Add(rt.ID) {
			return nil, &ConfigError{Err: fmt.Errorf("test %q: duplicate id", rt.ID)}
		}

		check, err := decodeCheck(ParseKind(rt.Type), rt.Type, rt.Params)
		if err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("test %q: %w", rt.ID, err)}
		}

		spec := TestSpec{
			ID:       rt.ID,
			Type:     rt.Type,
			Check:    check,
			Score:    1,
			Category: rt.Category,
			Requires: rt.Requires,
			Timeout:  defaultTimeout,
		}
		if rt.Score != nil {
			spec.Score = *rt.Score
		}
		if rt.Timeout != nil {
			if *rt.Timeout < 0 {
				return nil, &ConfigError{Err: fmt.Errorf("test %q: timeout must not be negative", rt.ID)}
			}
			if *rt.Timeout > 0 {
				spec.Timeout = time.Duration(*rt.Timeout * float64(time.Second))
			}
		}
		doc.Tests = append(doc.Tests, spec)
	}
	return doc, nil
}
