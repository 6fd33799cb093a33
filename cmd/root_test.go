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

	for _, name := range []string{"process", "lookup", "profiles", "runs"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "jetveto", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.True(t, rootCmd.SilenceUsage)
}

func TestProcessCommand_Flags(t *testing.T) {
	for _, name := range []string{"profile", "era", "corr", "mode", "map", "pog-dir", "mc",
		"output-dir", "concurrency", "compress", "db"} {
		assert.NotNil(t, processCmd.Flags().Lookup(name), "process should have --%s flag", name)
	}

	mc := processCmd.Flags().Lookup("mc")
	require.NotNil(t, mc)
	assert.Equal(t, "true", mc.DefValue)
}

func TestProcessCommand_RequiresFiles(t *testing.T) {
	assert.Error(t, processCmd.Args(processCmd, nil))
	assert.NoError(t, processCmd.Args(processCmd, []string{"a.jsonl"}))
}

func TestLookupCommand_Flags(t *testing.T) {
	for _, name := range []string{"eta", "phi", "profile", "corr", "pog-dir"} {
		assert.NotNil(t, lookupCmd.Flags().Lookup(name), "lookup should have --%s flag", name)
	}
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["list"])
	assert.True(t, names["show"])

	assert.NotNil(t, runsCmd.PersistentFlags().Lookup("db"))
	limit := runsListCmd.Flags().Lookup("limit")
	require.NotNil(t, limit)
	assert.Equal(t, "20", limit.DefValue)
}
