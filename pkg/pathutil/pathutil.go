// Package pathutil provides utilities for safe path handling and validation.
package pathutil

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePath validates that a path is safe to use for file operations.
// It ensures the path doesn't contain directory traversal attempts and
// optionally checks if it's within allowed base directories.
func ValidatePath(path string, allowedBaseDirs ...string) (string, error) {
	cleanPath := filepath.Clean(path)

	absPath, err := filepath.Abs(cleanPath)
	if err != nil {
		return "", fmt.Errorf("getting absolute path: %w", err)
	}

	if strings.Contains(path, "..") {
		return "", fmt.Errorf("path contains directory traversal pattern: %s", path)
	}

	if len(allowedBaseDirs) == 0 {
		return absPath, nil
	}

	for _, baseDir := range allowedBaseDirs {
		absBase, err := filepath.Abs(baseDir)
		if err != nil {
			continue
		}

		if !strings.HasSuffix(absBase, string(filepath.Separator)) {
			absBase += string(filepath.Separator)
		}

		if strings.HasPrefix(absPath, absBase) || absPath == strings.TrimSuffix(absBase, string(filepath.Separator)) {
			return absPath, nil
		}
	}

	return "", fmt.Errorf("path %s is not within allowed directories", cleanPath)
}

// ValidateConfigPath validates a configuration file path. Configs are JSON
// by default with YAML accepted by extension.
func ValidateConfigPath(path string) (string, error) {
	absPath, err := ValidatePath(path)
	if err != nil {
		return "", err
	}

	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".json", ".yaml", ".yml":
		return absPath, nil
	default:
		return "", fmt.Errorf("config file must have .json, .yaml or .yml extension, got %s", filepath.Ext(absPath))
	}
}
