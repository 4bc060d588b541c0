package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"metrics", "watch", "serve", "export", "import", "migrate"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "pcp-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestSubcommands_DeclareValidationMode(t *testing.T) {
	for _, c := range rootCmd.Commands() {
		if c.Name() == "help" || c.Name() == "completion" {
			continue
		}
		assert.Equal(t, c.Name(), c.Annotations[modeKey], "command %q", c.Name())
	}
}

func TestPeriodFlags(t *testing.T) {
	for _, c := range []string{"metrics", "watch", "export"} {
		cmd, _, err := rootCmd.Find([]string{c})
		require.NoError(t, err)
		for _, name := range []string{"period", "start", "end"} {
			assert.NotNil(t, cmd.Flags().Lookup(name), "%s should have --%s", c, name)
		}
		assert.Equal(t, "today", cmd.Flags().Lookup("period").DefValue)
	}
}

func TestMetricsCommand_Flags(t *testing.T) {
	flag := metricsCmd.Flags().Lookup("format")
	require.NotNil(t, flag)
	assert.Equal(t, "table", flag.DefValue)

	for _, name := range []string{"compare", "targets", "issues", "top"} {
		assert.NotNil(t, metricsCmd.Flags().Lookup(name), "metrics should have --%s", name)
	}
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
	assert.NotNil(t, serveCmd.Flags().Lookup("watch-seed"))
}

func TestImportCommand_Flags(t *testing.T) {
	flag := importCmd.Flags().Lookup("watch")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
}

func TestResolvePort(t *testing.T) {
	assert.Equal(t, 9090, resolvePort(9090, 8080))
	assert.Equal(t, 8080, resolvePort(0, 8080))
	assert.Equal(t, 0, resolvePort(0, 0))
}
