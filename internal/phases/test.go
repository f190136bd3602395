package phases

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipyard/internal/agent"
)

// testTrack is one primary/resolver pair of the test phase.
type testTrack struct {
	name     string
	primary  agent.SlashCommand
	resolver agent.SlashCommand
	dataKey  string
}

var (
	unitTrack = testTrack{"Tests", agent.Test, agent.ResolveFailedTest, DataResolveAttempts}
	e2eTrack  = testTrack{"E2E tests", agent.TestE2E, agent.ResolveFailedE2ETest, DataE2EResolveAttempts}
)

// Test runs the test suite (built → tested), resolving failures. The E2E
// track runs only when requested and the unit track passed.
func (e *Engine) Test(ctx context.Context, workflowID string, opts Options) (*Result, error) {
	return e.execute(ctx, Test, workflowID, opts, true, func(r *run) error {
		portsFile := filepath.Join(r.path, e.settings.PortsFile)
		if _, err := os.Stat(portsFile); errors.Is(err, fs.ErrNotExist) {
			r.log().Warn(r.ctx, "ports file missing, tests may use default ports", zap.String("path", portsFile))
			r.comment.warn(fmt.Sprintf("Port configuration `%s` not found, using defaults", e.settings.PortsFile))
		}

		passed, unit, err := r.runTestTrack(unitTrack)
		if err != nil {
			return err
		}
		r.result.set(DataTestsPassed, unit.passed)
		r.result.set(DataTestsFailed, len(unit.failed))

		if opts.E2E && passed {
			var e2e testTally
			passed, e2e, err = r.runTestTrack(e2eTrack)
			if err != nil {
				return err
			}
			r.result.set(DataTestsPassed, unit.passed+e2e.passed)
			r.result.set(DataTestsFailed, len(unit.failed)+len(e2e.failed))
		}

		summary := fmt.Sprintf("Test run: %d passed, %d failed.", r.result.Int(DataTestsPassed), r.result.Int(DataTestsFailed))
		if err := r.commitAndPush("test", "fix failing tests", summary); err != nil {
			return err
		}

		if !passed {
			r.result.fail(fmt.Sprintf("Tests failed: %d failing", r.result.Int(DataTestsFailed)), r.result.Error)
			return nil
		}
		r.result.Success = true
		r.result.Message = "All tests passed"
		return nil
	})
}

// runTestTrack runs one track with its own resolution counter.
func (r *run) runTestTrack(t testTrack) (bool, testTally, error) {
	var (
		last    *agent.Response
		results testTally
	)
	passed, attempts, err := r.resolveLoop(
		func() (bool, error) {
			resp, err := r.invoke(t.primary)
			if err != nil {
				return false, err
			}
			last = resp
			results = tally(resp.Output)
			return resp.Success && len(results.failed) == 0, nil
		},
		func(int) error {
			resp, err := r.invoke(t.resolver, results.failureSummary(last.ErrorMessage()))
			if err != nil {
				return err
			}
			if !resp.Success {
				r.log().Warn(r.ctx, "test resolution attempt failed",
					zap.String("command", string(t.resolver)),
					zap.String("error", resp.ErrorMessage()),
				)
			}
			return nil
		},
	)
	if err != nil {
		return false, results, err
	}
	r.result.set(t.dataKey, attempts)

	label := t.name
	if results.parsed {
		label = fmt.Sprintf("%s (%d passed, %d failed)", t.name, results.passed, len(results.failed))
	}
	r.comment.check(label, passed)
	for _, f := range results.failed {
		r.comment.add("  - `%s`", f.Name)
	}
	if !passed {
		r.result.Error = last.ErrorMessage()
		if r.result.Error == "" && len(results.failed) > 0 {
			r.result.Error = results.failureSummary("")
		}
	}
	return passed, results, nil
}
