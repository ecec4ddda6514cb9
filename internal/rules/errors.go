package rules

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType classifies rule execution errors.
type ErrorType string

const (
	// ErrorTypeRetrieval indicates a failure paging findings from the
	// platform. Fatal to the rule; the run continues with the next rule.
	ErrorTypeRetrieval ErrorType = "retrieval"
	// ErrorTypeAttribute indicates a failure resolving or creating the
	// rule's custom attribute. Fatal to the rule.
	ErrorTypeAttribute ErrorType = "attribute"
	// ErrorTypeAssignment indicates a failed assignment batch. Non-fatal;
	// remaining batches still run.
	ErrorTypeAssignment ErrorType = "assignment"
)

// RuleError is a structured error from rule execution.
type RuleError struct {
	Err        error
	Rule       string
	Type       ErrorType
	AssetUUIDs []string
}

// Error implements the error interface.
func (e *RuleError) Error() string {
	msg := fmt.Sprintf("rule %q %s error: %v", e.Rule, e.Type, e.Err)
	if len(e.AssetUUIDs) > 0 {
		msg += fmt.Sprintf(" (assets: %s)", strings.Join(e.AssetUUIDs, ", "))
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *RuleError) Unwrap() error {
	return e.Err
}

// NewRuleError creates a structured rule error.
func NewRuleError(rule string, errType ErrorType, err error) *RuleError {
	return &RuleError{
		Rule: rule,
		Type: errType,
		Err:  err,
	}
}

// NewAssignmentError creates an assignment error carrying the failed
// batch's asset identifiers for operator remediation.
func NewAssignmentError(rule string, assetUUIDs []string, err error) *RuleError {
	return &RuleError{
		Rule:       rule,
		Type:       ErrorTypeAssignment,
		Err:        err,
		AssetUUIDs: assetUUIDs,
	}
}

// IsRetrievalError checks if the error is a finding retrieval error.
func IsRetrievalError(err error) bool {
	return errorIsType(err, ErrorTypeRetrieval)
}

// IsAttributeError checks if the error is an attribute definition error.
func IsAttributeError(err error) bool {
	return errorIsType(err, ErrorTypeAttribute)
}

// IsAssignmentError checks if the error is a batch assignment error.
func IsAssignmentError(err error) bool {
	return errorIsType(err, ErrorTypeAssignment)
}

func errorIsType(err error, errType ErrorType) bool {
	var re *RuleError
	if errors.As(err, &re) {
		return re.Type == errType
	}
	return false
}
