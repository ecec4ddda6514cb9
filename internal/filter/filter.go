// Package filter implements the plugin filter expressions that select
// findings for a rule. An expression is either a single group (every
// constraint must hold) or a list of groups (a finding matching any group
// matches the expression). Expressions are validated into a strict typed
// form at config load time; evaluation itself is pure and does no I/O.
package filter

import (
	"fmt"
	"strings"

	"github.com/joshsymonds/headshot/internal/models"
)

// Group is one AND-combined set of constraints against a finding. A zero
// value for a field means the field is unconstrained, except State which is
// defaulted to OPEN during decoding.
type Group struct {
	Severity       string
	PluginFamily   string
	State          string
	OutputContains string
	PluginIDs      []int
}

// Matches reports whether a finding satisfies every constraint in the group.
func (g Group) Matches(f models.Finding) bool {
	if len(g.PluginIDs) > 0 && !containsInt(g.PluginIDs, f.PluginID) {
		return false
	}
	if g.Severity != "" && g.Severity != models.NormalizeSeverity(f.Severity) {
		return false
	}
	if g.PluginFamily != "" && !strings.EqualFold(g.PluginFamily, f.PluginFamily) {
		return false
	}
	if g.State != "" && g.State != models.NormalizeState(f.State) {
		return false
	}
	if g.OutputContains != "" &&
		!strings.Contains(strings.ToLower(f.Output), strings.ToLower(g.OutputContains)) {
		return false
	}
	return true
}

// Expression is the tagged union of filter forms: a single group or an
// ordered list of OR-combined groups. The zero Expression matches nothing.
type Expression struct {
	groups []Group
}

// NewExpression builds an expression from already-validated groups. It is
// primarily for tests; configuration goes through the JSON/YAML decoders.
func NewExpression(groups ...Group) Expression {
	return Expression{groups: groups}
}

// Groups returns the expression's groups in declaration order.
func (e Expression) Groups() []Group {
	return e.groups
}

// Matches reports whether the finding satisfies at least one group.
// Group order never changes the result; evaluation short-circuits on the
// first matching group.
func (e Expression) Matches(f models.Finding) bool {
	for _, g := range e.groups {
		if g.Matches(f) {
			return true
		}
	}
	return false
}

// Criteria is the coarse, expression-independent query hint passed to the
// remote platform when it supports server-side filtering. It is always a
// superset of what the expression matches; full evaluation still happens
// client-side because the remote filter language cannot express OR-group
// composition.
type Criteria struct {
	States     []string
	Severities []string
}

// Criteria derives the server-side hints for this expression: the union of
// group states, and the union of severities only when every group
// constrains severity (otherwise severity must stay unfiltered remotely).
func (e Expression) Criteria() Criteria {
	var c Criteria
	allSeverities := true
	for _, g := range e.groups {
		if g.State != "" && !containsString(c.States, g.State) {
			c.States = append(c.States, g.State)
		}
		if g.Severity == "" {
			allSeverities = false
			continue
		}
		if !containsString(c.Severities, g.Severity) {
			c.Severities = append(c.Severities, g.Severity)
		}
	}
	if !allSeverities {
		c.Severities = nil
	}
	return c
}

// String renders the expression in a compact form for logs and --list-rules.
func (e Expression) String() string {
	parts := make([]string, 0, len(e.groups))
	for _, g := range e.groups {
		parts = append(parts, g.String())
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "any(" + strings.Join(parts, " | ") + ")"
}

// String renders the group's present constraints.
func (g Group) String() string {
	var parts []string
	if len(g.PluginIDs) > 0 {
		parts = append(parts, fmt.Sprintf("plugin_id=%v", g.PluginIDs))
	}
	if g.Severity != "" {
		parts = append(parts, "severity="+g.Severity)
	}
	if g.PluginFamily != "" {
		parts = append(parts, "plugin_family="+g.PluginFamily)
	}
	if g.State != "" {
		parts = append(parts, "state="+g.State)
	}
	if g.OutputContains != "" {
		parts = append(parts, fmt.Sprintf("output_contains=%q", g.OutputContains))
	}
	return "{" + strings.Join(parts, " ") + "}"
}

func containsInt(haystack []int, needle int) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

func containsString(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}
