// Package reaper tears down everything one evaluation created.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/signalnine/envgrade/internal/docker"
	"github.com/signalnine/envgrade/internal/metrics"
)

const DefaultTimeout = 2 * time.Minute

type Reaper struct {
	Janitor docker.Janitor
	Log     *slog.Logger
	Metrics *metrics.Metrics
	Timeout time.Duration
}

type step struct {
	name string
	fn   func(ctx context.Context) error
}

// Reap runs every cleanup step in order and returns their errors joined.
// A failing or panicking step does not stop later steps. Reap uses its own
// context so it still runs after the evaluation context was cancelled.
func (r *Reaper) Reap(id docker.Identity) error {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	log := r.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	steps := []step{
		{"remove_container", func(ctx context.Context) error { return r.Janitor.RemoveContainer(ctx, id.ContainerName) }},
		{"remove_labeled_containers", func(ctx context.Context) error { return r.Janitor.RemoveLabeledContainers(ctx, id.Label) }},
		{"remove_image", func(ctx context.Context) error { return r.Janitor.RemoveImage(ctx, id.ImageName) }},
		{"remove_labeled_volumes", func(ctx context.Context) error { return r.Janitor.RemoveLabeledVolumes(ctx, id.Label) }},
		{"prune_build_cache", func(ctx context.Context) error { return r.Janitor.PruneBuildCache(ctx, id.Label) }},
	}

	var errs []error
	for _, s := range steps {
		if err := r.run(ctx, s); err != nil {
			log.Warn("cleanup step failed", "step", s.name, "label", id.Label.String(), "err", err)
			r.Metrics.CleanupFailed(s.name)
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	if len(errs) == 0 {
		log.Debug("cleanup complete", "label", id.Label.String())
	}
	return errors.Join(errs...)
}

func (r *Reaper) run(ctx context.Context, s step) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return s.fn(ctx)
}
