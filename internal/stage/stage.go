// Package stage places a repository's source tree next to a build recipe
// so the pair forms a usable build context.
package stage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/signalnine/envgrade/internal/config"
)

var (
	ErrSourceMissing        = errors.New("source directory not found")
	ErrConfirmationRequired = errors.New("staging would overwrite existing files")
	ErrSourceOverlap        = errors.New("staging would overwrite the source tree")
)

type Outcome int

const (
	Ready Outcome = iota
	ConfirmationRequired
	SourceMissing
)

func (o Outcome) String() string {
	switch o {
	case Ready:
		return "ready"
	case ConfirmationRequired:
		return "confirmation_required"
	case SourceMissing:
		return "source_missing"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

type Request struct {
	Recipe  string
	Repo    string
	DataDir string
	Layout  string
}

// Plan describes what staging will do without touching the filesystem.
type Plan struct {
	Outcome    Outcome
	Layout     string
	Dockerfile string
	Context    string
	Source     string
	// Conflicts are existing paths Stage removes before copying.
	Conflicts []string

	copies []copyOp
}

type copyOp struct {
	src string
	dst string
}

// NewPlan inspects the recipe and source locations. Missing sources are
// reported through the outcome, not an error.
func NewPlan(req Request) (*Plan, error) {
	recipe, err := filepath.Abs(req.Recipe)
	if err != nil {
		return nil, fmt.Errorf("resolving recipe path: %w", err)
	}
	if _, err := os.Stat(recipe); err != nil {
		return nil, fmt.Errorf("recipe: %w", err)
	}
	source, err := filepath.Abs(filepath.Join(req.DataDir, req.Repo))
	if err != nil {
		return nil, fmt.Errorf("resolving source path: %w", err)
	}

	p := &Plan{Dockerfile: recipe, Source: source}
	if fi, err := os.Stat(source); err != nil || !fi.IsDir() {
		p.Outcome = SourceMissing
		p.Layout = req.Layout
		p.Context = filepath.Dir(recipe)
		return p, nil
	}

	layout := req.Layout
	if layout == "" || layout == config.LayoutAuto {
		layout = autoLayout(recipe, req.Repo)
	}
	switch layout {
	case config.LayoutFlat:
		err = p.planFlat(recipe, req.Repo)
	case config.LayoutNested:
		err = p.planNested(recipe)
	default:
		return nil, fmt.Errorf("unknown staging layout %q", layout)
	}
	if err != nil {
		return nil, err
	}
	if err := p.checkOverlap(); err != nil {
		return nil, err
	}
	p.Layout = layout
	if len(p.Conflicts) > 0 {
		p.Outcome = ConfirmationRequired
	}
	return p, nil
}

// autoLayout picks nested only when the recipe directory is named after the
// repository and its parent holds nothing else, so it never needs to clear
// anything.
func autoLayout(recipe, repo string) string {
	dir := filepath.Dir(recipe)
	if filepath.Base(dir) != repo {
		return config.LayoutFlat
	}
	others, err := siblings(dir)
	if err != nil || len(others) > 0 {
		return config.LayoutFlat
	}
	return config.LayoutNested
}

// planFlat copies the source tree to <recipe dir>/<repo>.
func (p *Plan) planFlat(recipe, repo string) error {
	dir := filepath.Dir(recipe)
	dst := filepath.Join(dir, repo)
	if _, err := os.Lstat(dst); err == nil {
		p.Conflicts = append(p.Conflicts, dst)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("inspecting %s: %w", dst, err)
	}
	p.Context = dir
	p.copies = []copyOp{{src: p.Source, dst: dst}}
	return nil
}

// planNested copies the source tree's entries into the parent of the
// recipe's directory.
func (p *Plan) planNested(recipe string) error {
	dir := filepath.Dir(recipe)
	parent := filepath.Dir(dir)
	others, err := siblings(dir)
	if err != nil {
		return err
	}
	p.Conflicts = others

	entries, err := os.ReadDir(p.Source)
	if err != nil {
		return fmt.Errorf("reading source: %w", err)
	}
	for _, e := range entries {
		if e.Name() == filepath.Base(dir) {
			return fmt.Errorf("source entry %q would replace the recipe directory", e.Name())
		}
		p.copies = append(p.copies, copyOp{
			src: filepath.Join(p.Source, e.Name()),
			dst: filepath.Join(parent, e.Name()),
		})
	}
	p.Context = parent
	return nil
}

// checkOverlap rejects plans that would clear or replace part of the
// source tree. A copy destination inside the source is allowed; copyPath
// skips it while walking.
func (p *Plan) checkOverlap() error {
	for _, c := range p.Conflicts {
		if within(c, p.Source) || within(p.Source, c) {
			return fmt.Errorf("%w: %s would be removed", ErrSourceOverlap, c)
		}
	}
	for _, c := range p.copies {
		if within(c.src, c.dst) {
			return fmt.Errorf("%w: %s would be replaced by a copy of itself", ErrSourceOverlap, c.dst)
		}
	}
	return nil
}

// within reports whether path is root or lies below it.
func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// siblings lists the entries next to dir in its parent.
func siblings(dir string) ([]string, error) {
	parent := filepath.Dir(dir)
	entries, err := os.ReadDir(parent)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", parent, err)
	}
	var out []string
	for _, e := range entries {
		if e.Name() != filepath.Base(dir) {
			out = append(out, filepath.Join(parent, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Confirm accepts the plan's conflicts.
func (p *Plan) Confirm() {
	if p.Outcome == ConfirmationRequired {
		p.Outcome = Ready
	}
}

// Stage clears conflicts and copies the source. The returned release
// removes every staged copy; its failures are logged only.
func (p *Plan) Stage(log *slog.Logger) (release func(), err error) {
	switch p.Outcome {
	case SourceMissing:
		return nil, fmt.Errorf("%w: %s", ErrSourceMissing, p.Source)
	case ConfirmationRequired:
		return nil, fmt.Errorf("%w: %d existing entries", ErrConfirmationRequired, len(p.Conflicts))
	}

	for _, c := range p.Conflicts {
		log.Warn("removing existing path before staging", "path", c)
		if err := os.RemoveAll(c); err != nil {
			return nil, fmt.Errorf("clearing %s: %w", c, err)
		}
	}

	var staged []string
	release = func() {
		for _, s := range staged {
			if err := os.RemoveAll(s); err != nil {
				log.Warn("removing staged copy", "path", s, "err", err)
			}
		}
	}
	for _, c := range p.copies {
		staged = append(staged, c.dst)
		if err := copyPath(c.src, c.dst); err != nil {
			release()
			return nil, fmt.Errorf("staging %s: %w", c.src, err)
		}
	}
	log.Debug("staged source", "layout", p.Layout, "context", p.Context, "entries", len(staged))
	return release, nil
}
