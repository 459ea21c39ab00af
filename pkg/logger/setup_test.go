package logger

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLoggerConfig(t *testing.T) {
	t.Run("Should read logging flags from command", func(t *testing.T) {
		cmd := &cobra.Command{Use: "test"}
		cmd.Flags().String("log-level", "info", "")
		cmd.Flags().Bool("log-json", false, "")
		cmd.Flags().Bool("log-source", false, "")
		require.NoError(t, cmd.Flags().Set("log-level", "debug"))
		require.NoError(t, cmd.Flags().Set("log-json", "true"))

		level, asJSON, source, err := GetLoggerConfig(cmd)

		require.NoError(t, err)
		assert.Equal(t, DebugLevel, level)
		assert.True(t, asJSON)
		assert.False(t, source)
	})

	t.Run("Should fail when flags are missing", func(t *testing.T) {
		cmd := &cobra.Command{Use: "test"}
		_, _, _, err := GetLoggerConfig(cmd)
		assert.ErrorContains(t, err, "log-level")
	})
}

func TestSetupLogger(t *testing.T) {
	t.Run("Should install the logger as process default", func(t *testing.T) {
		prev := getDefault()
		t.Cleanup(func() { SetDefault(prev) })

		l := SetupLogger(DisabledLevel, false, false)

		assert.Same(t, l, FromContext(t.Context()))
	})
}
