package rules

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/joshsymonds/headshot/internal/config"
	"github.com/joshsymonds/headshot/pkg/logger"
)

// Summary aggregates the results of a run across rules.
type Summary struct {
	Results   []*RuleResult
	Processed int
	Succeeded int
	Failed    int
}

// Err returns an aggregate error covering every failed rule, or nil when
// all rules succeeded. Used for the process exit code.
func (s *Summary) Err() error {
	var merr *multierror.Error
	for _, result := range s.Results {
		if result.Failed() {
			merr = multierror.Append(merr, fmt.Errorf("rule %q: %d matched, %d updated, %d failed",
				result.RuleName, result.AssetsMatched, result.AssetsUpdated, result.AssetsFailed))
		}
	}
	return merr.ErrorOrNil()
}

// Runner executes rules sequentially in the given order, isolating each
// rule's failures from the rest of the queue.
type Runner struct {
	executor *Executor
	log      logger.Logger
}

// NewRunner creates a runner around an executor.
func NewRunner(executor *Executor, log logger.Logger) *Runner {
	return &Runner{executor: executor, log: log}
}

// Run processes the rules one at a time. A canceled context aborts the
// remaining queue; batches already accepted by the platform stay applied.
func (r *Runner) Run(ctx context.Context, ruleList []config.Rule) *Summary {
	summary := &Summary{}

	if len(ruleList) == 0 {
		r.log.Warn("no rules to process")
		return summary
	}

	r.log.Info("processing rules", "count", len(ruleList), "dry_run", r.executor.dryRun)

	for i, rule := range ruleList {
		if err := ctx.Err(); err != nil {
			r.log.Warn("run interrupted, skipping remaining rules",
				"remaining", len(ruleList)-i)
			break
		}

		r.log.Info("starting rule",
			"rule", rule.Name, "position", fmt.Sprintf("%d/%d", i+1, len(ruleList)),
			"description", rule.Description)

		result := r.executor.Execute(ctx, rule)
		summary.Results = append(summary.Results, result)
		summary.Processed++

		if result.Failed() {
			summary.Failed++
			r.log.Error("rule failed",
				"rule", rule.Name,
				"matched", result.AssetsMatched,
				"updated", result.AssetsUpdated,
				"failed", result.AssetsFailed,
				"errors", len(result.Errors))
			continue
		}

		summary.Succeeded++
		if result.DryRun {
			r.log.Info("rule completed (dry-run)",
				"rule", rule.Name,
				"matched", result.AssetsMatched,
				"would_update", result.AssetsMatched)
		} else {
			r.log.Info("rule completed",
				"rule", rule.Name,
				"matched", result.AssetsMatched,
				"updated", result.AssetsUpdated)
		}
	}

	r.log.Info("run complete",
		"processed", summary.Processed,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed)

	return summary
}
