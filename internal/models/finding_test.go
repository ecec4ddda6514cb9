package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSeverity(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"critical", SeverityCritical},
		{"Critical", SeverityCritical},
		{"HIGH", SeverityHigh},
		{"Moderate", SeverityMedium},
		{"medium", SeverityMedium},
		{"low", SeverityLow},
		{"Informational", SeverityInfo},
		{"info", SeverityInfo},
		{"bogus", "bogus"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeSeverity(tt.input))
		})
	}
}

func TestNormalizeState(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"open", StateOpen},
		{"OPEN", StateOpen},
		{"New", StateOpen},
		{"reopened", StateReopened},
		{"Fixed", StateFixed},
		{"bogus", "BOGUS"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeState(tt.input))
		})
	}
}

func TestIsValidSeverity(t *testing.T) {
	for _, severity := range ValidSeverities() {
		assert.True(t, IsValidSeverity(severity), severity)
	}
	assert.False(t, IsValidSeverity("unknown"))
	assert.False(t, IsValidSeverity("Critical"), "validation is on normalized values")
}

func TestIsValidState(t *testing.T) {
	for _, state := range ValidStates() {
		assert.True(t, IsValidState(state), state)
	}
	assert.False(t, IsValidState("open"), "validation is on normalized values")
	assert.False(t, IsValidState("CLOSED"))
}

func TestFindingIsValid(t *testing.T) {
	valid := Finding{
		PluginID:     19506,
		Severity:     SeverityInfo,
		PluginFamily: "Settings",
		State:        StateOpen,
		AssetUUID:    "6c8bbb43-6b31-4ea9-9b31-7c0cbcc4c3a1",
	}
	require.NoError(t, valid.IsValid())

	missingPlugin := valid
	missingPlugin.PluginID = 0
	assert.ErrorContains(t, missingPlugin.IsValid(), "plugin_id")

	missingAsset := valid
	missingAsset.AssetUUID = ""
	assert.ErrorContains(t, missingAsset.IsValid(), "asset_uuid")

	missingSeverity := valid
	missingSeverity.Severity = ""
	assert.ErrorContains(t, missingSeverity.IsValid(), "severity")
}
