package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError_MessageIncludesFieldAndReason(t *testing.T) {
	err := &ValidationError{Field: "price", Reason: "must be positive"}
	assert.Contains(t, err.Error(), "price")
	assert.Contains(t, err.Error(), "must be positive")
}

func TestMonitoringPausedError_MessageIncludesUserIDAndReason(t *testing.T) {
	err := &MonitoringPausedError{UserID: 42, Reason: "refresh token revoked"}
	assert.Contains(t, err.Error(), "42")
	assert.Contains(t, err.Error(), "refresh token revoked")
}

func TestBrokerRejection_MessageIncludesCodeAndMessage(t *testing.T) {
	err := &BrokerRejection{Code: "insufficient_funds", Message: "not enough margin"}
	assert.Contains(t, err.Error(), "insufficient_funds")
	assert.Contains(t, err.Error(), "not enough margin")
}
