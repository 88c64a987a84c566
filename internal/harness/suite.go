package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SuiteResult summarises a directory of scenarios.
type SuiteResult struct {
	Total    int               `json:"total"`
	Passed   int               `json:"passed"`
	Failed   int               `json:"failed"`
	Failures []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioFailure is one scenario that failed to load, set up or pass.
type ScenarioFailure struct {
	Path   string   `json:"path"`
	Name   string   `json:"name,omitempty"`
	Errors []string `json:"errors"`
}

// Pass reports whether every scenario passed.
func (r *SuiteResult) Pass() bool { return r.Failed == 0 }

// FindScenarios returns the .yaml and .yml files directly under dir,
// sorted by name.
func FindScenarios(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading scenario directory: %w", err)
	}
	var out []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// RunFiles runs every scenario file and collects the outcome. A scenario
// that cannot be loaded counts as failed.
func RunFiles(ctx context.Context, paths []string) *SuiteResult {
	res := &SuiteResult{}
	for _, p := range paths {
		res.Total++
		s, err := LoadScenario(p)
		if err != nil {
			res.fail(ScenarioFailure{Path: p, Errors: []string{err.Error()}})
			continue
		}
		r, err := RunContext(ctx, s)
		if err != nil {
			res.fail(ScenarioFailure{Path: p, Name: s.Name, Errors: []string{err.Error()}})
			continue
		}
		if !r.Pass {
			res.fail(ScenarioFailure{Path: p, Name: s.Name, Errors: r.Errors})
			continue
		}
		res.Passed++
	}
	return res
}

// RunDir runs every scenario under dir.
func RunDir(ctx context.Context, dir string) (*SuiteResult, error) {
	paths, err := FindScenarios(dir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scenarios found in %s", dir)
	}
	return RunFiles(ctx, paths), nil
}

func (r *SuiteResult) fail(f ScenarioFailure) {
	r.Failed++
	r.Failures = append(r.Failures, f)
}
