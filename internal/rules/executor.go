// Package rules drives rule evaluation: it streams findings from the
// platform, matches them against each rule's filter expression, and asserts
// the rule's custom attribute on the matched assets.
package rules

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/joshsymonds/headshot/internal/config"
	"github.com/joshsymonds/headshot/internal/filter"
	"github.com/joshsymonds/headshot/internal/models"
	"github.com/joshsymonds/headshot/pkg/logger"
)

// FindingSource streams findings from the platform. Criteria is only a
// coarse server-side hint; the full filter expression is always evaluated
// client-side. An empty pageToken starts a new stream; the returned token
// is empty when the stream is exhausted.
type FindingSource interface {
	Fetch(ctx context.Context, criteria filter.Criteria, pageToken string) (findings []models.Finding, nextPageToken string, err error)
}

// AssignOutcome reports per-asset results of one assignment batch.
type AssignOutcome struct {
	Succeeded []string
	Failed    []string
}

// AttributeStore manages custom attribute definitions and assignments on
// the platform. ResolveOrCreate reports whether it had to create the
// definition. Assignment has set semantics: re-asserting the same value
// on an asset succeeds without side effects.
type AttributeStore interface {
	ResolveOrCreate(ctx context.Context, name, description string) (attributeID string, created bool, err error)
	Assign(ctx context.Context, attributeID string, assetUUIDs []string, value string) (AssignOutcome, error)
}

// RuleResult summarizes one rule execution. AttributeCreated records that
// the store created the rule's attribute definition; under dry run it
// records the intended creation, since resolution is skipped entirely.
type RuleResult struct {
	RuleName         string
	AttributeID      string
	Errors           []error
	AssetsMatched    int
	AssetsUpdated    int
	AssetsFailed     int
	AttributeCreated bool
	DryRun           bool
}

// Failed reports whether the rule should count as failed: any recorded
// error or any asset that could not be updated.
func (r *RuleResult) Failed() bool {
	return len(r.Errors) > 0 || r.AssetsFailed > 0
}

// Batch is one bounded slice of matched assets submitted in a single
// assignment request.
type Batch struct {
	ID         string
	AssetUUIDs []string
}

// Executor runs a single rule against a finding source and attribute store.
type Executor struct {
	source    FindingSource
	store     AttributeStore
	log       logger.Logger
	batchSize int
	dryRun    bool
}

// NewExecutor creates an executor. A batchSize <= 0 falls back to the
// default of 50.
func NewExecutor(source FindingSource, store AttributeStore, log logger.Logger, batchSize int, dryRun bool) *Executor {
	if batchSize <= 0 {
		batchSize = config.DefaultBatchSize
	}
	return &Executor{
		source:    source,
		store:     store,
		log:       log,
		batchSize: batchSize,
		dryRun:    dryRun,
	}
}

// Execute runs one rule: resolve the custom attribute, stream and match
// findings, then assign the attribute in batches. Errors are recorded in
// the result rather than aborting the caller's rule queue.
func (e *Executor) Execute(ctx context.Context, rule config.Rule) *RuleResult {
	result := &RuleResult{RuleName: rule.Name, DryRun: e.dryRun}
	log := e.log.With("rule", rule.Name)

	attr := rule.CustomAttribute
	description := attr.Description
	if description == "" {
		description = "Auto-created attribute: " + attr.Name
	}

	if e.dryRun {
		result.AttributeCreated = true
		log.Info("[dry-run] would resolve or create custom attribute",
			"attribute", attr.Name, "value", attr.Value)
	} else {
		attributeID, created, err := e.store.ResolveOrCreate(ctx, attr.Name, description)
		if err != nil {
			result.Errors = append(result.Errors, NewRuleError(rule.Name, ErrorTypeAttribute, err))
			log.Error("resolving custom attribute failed", "attribute", attr.Name, "error", err)
			return result
		}
		result.AttributeID = attributeID
		result.AttributeCreated = created
		log.Debug("custom attribute resolved",
			"attribute", attr.Name, "attribute_id", attributeID, "created", created)
	}

	matched, err := e.matchAssets(ctx, rule, log)
	if err != nil {
		result.Errors = append(result.Errors, NewRuleError(rule.Name, ErrorTypeRetrieval, err))
		log.Error("retrieving findings failed", "error", err)
		return result
	}
	result.AssetsMatched = len(matched)
	log.Info("assets matched", "count", len(matched))

	if len(matched) == 0 {
		log.Warn("no assets matched the filter criteria")
		return result
	}

	for _, batch := range partitionAssets(matched, e.batchSize) {
		if e.dryRun {
			log.Info("[dry-run] would update assets",
				"batch", batch.ID, "assets", len(batch.AssetUUIDs),
				"attribute", attr.Name, "value", attr.Value)
			continue
		}

		outcome, err := e.store.Assign(ctx, result.AttributeID, batch.AssetUUIDs, attr.Value)
		if err != nil {
			// Assets the store reports as succeeded before the error stay
			// counted as updated; only the remainder is attributed to it.
			failed := subtractAssets(batch.AssetUUIDs, outcome.Succeeded)
			result.AssetsUpdated += len(outcome.Succeeded)
			result.AssetsFailed += len(failed)
			result.Errors = append(result.Errors, NewAssignmentError(rule.Name, failed, err))
			log.Error("batch assignment failed",
				"batch", batch.ID, "assets", len(batch.AssetUUIDs),
				"succeeded", len(outcome.Succeeded), "error", err)
			continue
		}

		result.AssetsUpdated += len(outcome.Succeeded)
		result.AssetsFailed += len(outcome.Failed)
		if len(outcome.Failed) > 0 {
			err := fmt.Errorf("%d of %d assets in batch failed", len(outcome.Failed), len(batch.AssetUUIDs))
			result.Errors = append(result.Errors, NewAssignmentError(rule.Name, outcome.Failed, err))
			log.Warn("batch partially failed",
				"batch", batch.ID, "failed", len(outcome.Failed))
		}
		log.Debug("batch submitted",
			"batch", batch.ID, "succeeded", len(outcome.Succeeded), "failed", len(outcome.Failed))
	}

	return result
}

// matchAssets streams all findings for the rule and returns the sorted set
// of asset identifiers with at least one matching finding.
func (e *Executor) matchAssets(ctx context.Context, rule config.Rule, log logger.Logger) ([]string, error) {
	criteria := rule.Filters.Criteria()

	assets := make(map[string]struct{})
	pageToken := ""
	pages, findings := 0, 0

	for {
		page, next, err := e.source.Fetch(ctx, criteria, pageToken)
		if err != nil {
			return nil, fmt.Errorf("fetching findings page %d: %w", pages+1, err)
		}
		pages++
		findings += len(page)

		for i := range page {
			if rule.Filters.Matches(page[i]) {
				assets[page[i].AssetUUID] = struct{}{}
			}
		}

		if next == "" {
			break
		}
		pageToken = next
	}

	log.Debug("finding stream exhausted", "pages", pages, "findings", findings, "assets", len(assets))

	// Sorted for stable batching and logs; order carries no meaning.
	sorted := make([]string, 0, len(assets))
	for asset := range assets {
		sorted = append(sorted, asset)
	}
	sort.Strings(sorted)
	return sorted, nil
}

// subtractAssets returns the assets not present in exclude, preserving
// order.
func subtractAssets(assetUUIDs, exclude []string) []string {
	if len(exclude) == 0 {
		return assetUUIDs
	}
	excluded := make(map[string]struct{}, len(exclude))
	for _, asset := range exclude {
		excluded[asset] = struct{}{}
	}
	remaining := make([]string, 0, len(assetUUIDs)-len(exclude))
	for _, asset := range assetUUIDs {
		if _, ok := excluded[asset]; !ok {
			remaining = append(remaining, asset)
		}
	}
	return remaining
}

// partitionAssets splits the matched assets into batches of at most size
// elements. Every asset lands in exactly one batch.
func partitionAssets(assetUUIDs []string, size int) []Batch {
	batches := make([]Batch, 0, (len(assetUUIDs)+size-1)/size)
	for i := 0; i < len(assetUUIDs); i += size {
		end := i + size
		if end > len(assetUUIDs) {
			end = len(assetUUIDs)
		}
		batches = append(batches, Batch{
			ID:         uuid.New().String(),
			AssetUUIDs: assetUUIDs[i:end],
		})
	}
	return batches
}
