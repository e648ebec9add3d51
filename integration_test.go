//go:build integration

package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalnine/envgrade/internal/config"
	"github.com/signalnine/envgrade/internal/docker"
	"github.com/signalnine/envgrade/internal/logging"
	"github.com/signalnine/envgrade/internal/rubric"
	"github.com/signalnine/envgrade/internal/runner"
)

const integrationRubric = `{
  "repo": "demo",
  "tests": [
    {"id": "tools", "type": "CommandsExist", "params": {"names": ["sh", "doesnotexist123"]}, "score": 2},
    {"id": "source", "type": "FilesExist", "params": {"paths": ["/app/demo/hello.txt"]}},
    {"id": "greeting", "type": "FileContains", "params": {"path": "/app/demo/hello.txt", "contains": ["hello"]}, "requires": ["source"]},
    {"id": "slow", "type": "RunCommand", "params": {"command": "sleep 60"}, "timeout": 2}
  ]
}`

// createFixture lays out a data dir with one source tree, a flat recipe and
// a rubric.
func createFixture(t *testing.T) (dataDir, recipe string, doc *rubric.Document) {
	t.Helper()
	dir := t.TempDir()
	dataDir = filepath.Join(dir, "data")
	files := map[string]string{
		filepath.Join(dataDir, "demo", "hello.txt"): "hello",
		filepath.Join(dir, "recipe", "Dockerfile"):  "FROM alpine:latest\nCOPY demo /app/demo\n",
	}
	for path, content := range files {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	doc, err := rubric.Parse([]byte(integrationRubric), 30*time.Second)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return dataDir, filepath.Join(dir, "recipe", "Dockerfile"), doc
}

func TestEvaluateIntegration(t *testing.T) {
	if os.Getenv("ENVGRADE_DOCKER_TESTS") == "" {
		t.Skip("set ENVGRADE_DOCKER_TESTS=1 to run integration tests")
	}

	for _, backend := range []string{config.BackendCLI, config.BackendEngine} {
		t.Run(backend, func(t *testing.T) {
			dataDir, recipe, doc := createFixture(t)
			cfg := config.Default()
			cfg.DataDir = dataDir
			cfg.Runtime.Backend = backend
			cfg.Runtime.BuildTimeout = 5 * time.Minute

			log := logging.Discard()
			ev := &runner.Evaluator{Config: cfg, Runtime: docker.New(cfg.Runtime, log), Log: log}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			report, err := ev.Evaluate(ctx, runner.Input{Recipe: recipe, Repo: "demo", Rubric: doc, Layout: config.LayoutFlat})
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if !report.BuildLog.BuildSuccess {
				t.Fatalf("build failed: %s\n%s", report.BuildLog.ErrorMessage, report.BuildLog.Stderr)
			}
			if len(report.TestResults) != 4 {
				t.Fatalf("got %d results, want 4", len(report.TestResults))
			}

			byID := map[string]int{}
			for i, r := range report.TestResults {
				byID[r.TestID] = i
			}
			tools := report.TestResults[byID["tools"]]
			if tools.NPassed != 1 || tools.NTests != 2 || tools.Score != 1 {
				t.Errorf("tools: got %d/%d score %g, want 1/2 score 1", tools.NPassed, tools.NTests, tools.Score)
			}
			if r := report.TestResults[byID["greeting"]]; r.NPassed != 1 {
				t.Errorf("greeting: %s", r.Message)
			}
			slow := report.TestResults[byID["slow"]]
			if slow.NPassed != 0 || !strings.Contains(slow.Message, "timed out") {
				t.Errorf("slow: got %q, want a timeout failure", slow.Message)
			}
			if slow.ExecutionTime > 30 {
				t.Errorf("slow: took %.1fs, timeout not enforced", slow.ExecutionTime)
			}
			if _, err := os.Stat(filepath.Join(filepath.Dir(recipe), "demo")); !os.IsNotExist(err) {
				t.Error("staged copy was not released")
			}
		})
	}
}
