//go:build !integration

package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intent-cli/internal/config"
)

func TestApplyLogFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "x"}
	cmd.Flags().String("log-level", "info", "")
	cmd.Flags().String("log-format", "json", "")
	require.NoError(t, cmd.Flags().Set("log-level", "debug"))

	lc := config.LogConfig{Level: "warn", Format: "console"}
	applyLogFlags(cmd, &lc)
	assert.Equal(t, "debug", lc.Level)
	assert.Equal(t, "console", lc.Format, "unset flag keeps config value")
}

func TestApplyLogFlags_NoFlags(t *testing.T) {
	lc := config.LogConfig{Level: "error", Format: "json"}
	applyLogFlags(&cobra.Command{Use: "x"}, &lc)
	assert.Equal(t, config.LogConfig{Level: "error", Format: "json"}, lc)
}
