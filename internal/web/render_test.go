package web

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderDashboard(t *testing.T) {
	var buf bytes.Buffer
	err := Render(&buf, "dashboard", map[string]any{
		"Instance":   "local",
		"Registered": 2,
		"IDs":        []uint64{1, 42},
	})
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "rendezvous local")
	assert.Contains(t, out, "1, 42")
	assert.Contains(t, out, "</html>")
}

func TestRenderUnknownTemplate(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, Render(&buf, "missing", nil))
}
