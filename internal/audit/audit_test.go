package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Validates that sensitive keys are correctly identified as secrets to prevent them from being logged in plaintext.
// Scope: Unit Test
// Expected: Returns true for keys containing 'password', 'token', 'secret', 'cookie', etc., and false for non-sensitive keys.
// Test Case ID: AUD-01
func TestAudit_IsSecret(t *testing.T) {
	tests := []struct {
		key      string
		isSecret bool
	}{
		{"password", true},
		{"Password", true},
		{"token", true},
		{"refresh_token", true},
		{"Set-Cookie", true},
		{"api_key", true},
		{"authorization", true},
		{"user_id", false},
		{"tenant", false},
		{"active_role", false},
		{"permission", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.isSecret, isSecret(tt.key))
		})
	}
}

// TestPurpose: Validates that audit events are emitted as structured records with generated ids and redacted metadata.
// Scope: Unit Test
// Test Case ID: AUD-02
func TestSlogLogger_Log(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	l.Log(context.Background(), Event{
		Type:     TypeTenantNotFound,
		Tenant:   "ghost",
		Host:     "ghost.localhost:3555",
		Metadata: map[string]any{"refresh_token": "abc", "path": "/dashboard"},
	})

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))

	assert.Equal(t, "AUDIT_EVENT", rec["msg"])
	assert.Equal(t, "audit", rec["component"])
	assert.Equal(t, TypeTenantNotFound, rec["audit_type"])
	assert.Equal(t, "ghost", rec["tenant"])
	assert.NotEmpty(t, rec["audit_id"])
	assert.NotContains(t, rec, "actor_id")

	meta, ok := rec["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "[REDACTED]", meta["refresh_token"])
	assert.Equal(t, "/dashboard", meta["path"])
}

func TestNop(t *testing.T) {
	var l Logger = Nop{}
	assert.NotPanics(t, func() { l.Log(context.Background(), Event{Type: TypeLogout}) })
}
