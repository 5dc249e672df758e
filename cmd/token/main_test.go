package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostelcast/livesession/internal/auth"
)

func TestTokenCommandMintsValidToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "token-cmd-secret")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--user-id", "host-9", "--name", "Warden", "--hours", "1"})
	require.NoError(t, cmd.Execute())

	claims, err := auth.NewJWTService("token-cmd-secret", 1).Validate(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "host-9", claims.UserID)
	assert.Equal(t, "Warden", claims.Name)
	assert.Equal(t, auth.RoleHost, claims.Role)
}

func TestTokenCommandRejectsUnknownRole(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--role", "admin"})
	assert.Error(t, cmd.Execute())
}
