package runner

import (
	"context"
	"log/slog"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/signalnine/envgrade/internal/result"
	"github.com/signalnine/envgrade/internal/rubric"
)

// Executor evaluates a single test.
type Executor interface {
	Execute(ctx context.Context, spec *rubric.TestSpec) (result.TestResult, error)
}

// Schedule runs tests in dependency order. A test is eligible once every
// test it requires has passed. Sweeps walk the remaining tests in
// declaration order until nothing is left or a sweep makes no progress;
// whatever remains then gets a failing "Unresolvable dependencies" result.
//
// On cancellation or executor error the results gathered so far are
// returned with the error.
func Schedule(ctx context.Context, tests []rubric.TestSpec, exec Executor, log *slog.Logger) ([]result.TestResult, error) {
	remaining := make([]*rubric.TestSpec, len(tests))
	for i := range tests {
		remaining[i] = &tests[i]
	}
	passed := mapset.NewThreadUnsafeSet[string]()
	results := make([]result.TestResult, 0, len(tests))

	maxSweeps := 2 * len(tests)
	for sweep := 0; len(remaining) > 0 && sweep < maxSweeps; sweep++ {
		var blocked []*rubric.TestSpec
		for _, spec := range remaining {
			if !spec.RequireSet().IsSubset(passed) {
				blocked = append(blocked, spec)
				continue
			}
			if err := ctx.Err(); err != nil {
				return results, err
			}
			res, err := exec.Execute(ctx, spec)
			if err != nil {
				return results, err
			}
			results = append(results, res)
			if res.Passed() {
				passed.Add(spec.ID)
			}
			log.Info("test finished", "test", spec.ID, "passed", res.Passed(), "message", res.Message)
		}
		progressed := len(blocked) < len(remaining)
		remaining = blocked
		if !progressed {
			break
		}
	}

	for _, spec := range remaining {
		log.Warn("unresolvable dependencies", "test", spec.ID, "requires", spec.Requires)
		results = append(results, result.TestResult{
			TestID:   spec.ID,
			TestType: spec.Type,
			NTests:   1,
			Message:  "Unresolvable dependencies: " + listRepr(spec.Requires),
			Category: spec.Category,
		})
	}
	return results, nil
}

// listRepr renders ids as ['a', 'b'].
func listRepr(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = "'" + id + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
