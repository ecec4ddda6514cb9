package pathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		errContains string
		wantErr     bool
	}{
		{
			name:    "valid relative path",
			path:    "configs/test.json",
			wantErr: false,
		},
		{
			name:        "path with directory traversal",
			path:        "../../../etc/passwd",
			wantErr:     true,
			errContains: "directory traversal",
		},
		{
			name:        "path with embedded traversal",
			path:        "configs/../../../etc/passwd",
			wantErr:     true,
			errContains: "directory traversal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidatePath(tt.path)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, got)
		})
	}
}

func TestValidateConfigPath(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		errContains string
		wantErr     bool
	}{
		{name: "json config", path: "config.json"},
		{name: "yaml config", path: "config.yaml"},
		{name: "yml config", path: "config.yml"},
		{
			name:        "unsupported extension",
			path:        "config.toml",
			wantErr:     true,
			errContains: "extension",
		},
		{
			name:        "traversal rejected",
			path:        "../config.json",
			wantErr:     true,
			errContains: "directory traversal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateConfigPath(tt.path)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, got)
		})
	}
}
