// Package models contains data structures for Tenable vulnerability findings.
package models

import (
	"fmt"
	"strings"
)

// Finding represents a single vulnerability observation reported by the
// Tenable platform: one plugin result tied to one asset. Findings are
// read-only snapshots of remote state.
type Finding struct {
	PluginName   string `json:"plugin_name,omitempty"`
	Severity     string `json:"severity"`
	PluginFamily string `json:"plugin_family"`
	State        string `json:"state"`
	Output       string `json:"output,omitempty"`
	AssetUUID    string `json:"asset_uuid"`
	PluginID     int    `json:"plugin_id"`
}

// IsValid checks that a finding carries the fields matching depends on.
func (f *Finding) IsValid() error {
	if f.PluginID == 0 {
		return fmt.Errorf("finding missing required field: plugin_id")
	}
	if f.AssetUUID == "" {
		return fmt.Errorf("finding missing required field: asset_uuid")
	}
	if f.Severity == "" {
		return fmt.Errorf("finding missing required field: severity")
	}
	return nil
}

// Severity levels as constants for type safety and consistency.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityInfo     = "info"
)

// Vulnerability states as reported by the platform.
const (
	StateOpen     = "OPEN"
	StateReopened = "REOPENED"
	StateFixed    = "FIXED"
)

// ValidSeverities returns all valid severity levels for validation.
func ValidSeverities() []string {
	return []string{
		SeverityCritical,
		SeverityHigh,
		SeverityMedium,
		SeverityLow,
		SeverityInfo,
	}
}

// IsValidSeverity checks if a severity level is valid.
func IsValidSeverity(severity string) bool {
	switch severity {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	default:
		return false
	}
}

// ValidStates returns all valid vulnerability states for validation.
func ValidStates() []string {
	return []string{StateOpen, StateReopened, StateFixed}
}

// IsValidState checks if a vulnerability state is valid.
func IsValidState(state string) bool {
	switch state {
	case StateOpen, StateReopened, StateFixed:
		return true
	default:
		return false
	}
}

// NormalizeSeverity maps the spellings Tenable uses across endpoints onto
// the canonical lowercase set.
func NormalizeSeverity(severity string) string {
	switch strings.ToLower(severity) {
	case "critical":
		return SeverityCritical
	case "high":
		return SeverityHigh
	case "medium", "moderate":
		return SeverityMedium
	case "low":
		return SeverityLow
	case "info", "informational":
		return SeverityInfo
	default:
		return strings.ToLower(severity)
	}
}

// NormalizeState maps state spellings onto the canonical uppercase set.
func NormalizeState(state string) string {
	switch strings.ToUpper(state) {
	case StateOpen, "NEW":
		return StateOpen
	case StateReopened:
		return StateReopened
	case StateFixed:
		return StateFixed
	default:
		return strings.ToUpper(state)
	}
}
