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

	expected := []string{"collect", "probe", "serve", "status", "config"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "collector-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestCollectCommand_Flags(t *testing.T) {
	flag := collectCmd.Flags().Lookup("zipcodes")
	require.NotNil(t, flag, "collect command should have --zipcodes flag")

	src := collectCmd.Flags().Lookup("source")
	require.NotNil(t, src, "collect command should have --source flag")
	assert.Equal(t, "both", src.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestStatusCommand_Flags(t *testing.T) {
	flag := statusCmd.Flags().Lookup("since-hours")
	require.NotNil(t, flag, "status command should have --since-hours flag")
	assert.Equal(t, "24", flag.DefValue)
}
