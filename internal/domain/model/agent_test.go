//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegisterAgentRequest_Validate(t *testing.T) {
	valid := &RegisterAgentRequest{Name: "agent-1", EndpointURL: "http://10.0.0.5:9090"}
	assert.NoError(t, valid.Validate())

	assert.Error(t, (&RegisterAgentRequest{EndpointURL: "http://x"}).Validate())
	assert.Error(t, (&RegisterAgentRequest{Name: "a"}).Validate())
	assert.Error(t, (&RegisterAgentRequest{Name: "a", EndpointURL: "u", MaxParallel: -1}).Validate())
}

func TestRegisterAgentRequest_Validate_DefaultsPool(t *testing.T) {
	req := &RegisterAgentRequest{Name: "agent-1", EndpointURL: "http://10.0.0.5:9090"}
	assert.NoError(t, req.Validate())
	assert.Equal(t, DefaultAgentPool, req.PoolID)
}

func TestAgentCompleteRequest_Validate(t *testing.T) {
	rc := 0
	ok := &AgentCompleteRequest{Status: ExecutionStatusSuccess, ReturnCode: &rc}
	assert.NoError(t, ok.Validate())

	nonTerminal := &AgentCompleteRequest{Status: ExecutionStatusRunning}
	assert.Error(t, nonTerminal.Validate())

	// Cancellation is owned by the controller, not reported by agents.
	cancelled := &AgentCompleteRequest{Status: ExecutionStatusCancelled}
	assert.Error(t, cancelled.Validate())
}
