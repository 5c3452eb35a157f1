package commands

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoot(t *testing.T) {
	cmd := Root()

	require.NotNil(t, cmd)
	assert.Equal(t, "stacktier", cmd.Use)
	assert.Equal(t, "Provision tiered application stacks on AWS", cmd.Short)
}

func TestRoot_HasSubcommands(t *testing.T) {
	cmd := Root()

	expected := []string{"deploy", "destroy", "status", "cost", "version"}

	subcommands := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		subcommands[sub.Name()] = true
	}
	for _, name := range expected {
		assert.True(t, subcommands[name], "Expected subcommand %s not found", name)
	}
}

func TestDeployCommandFlags(t *testing.T) {
	cmd := Deploy()
	assert.Equal(t, "deploy", cmd.Use)
	assert.NotNil(t, cmd.Flags().Lookup("config"))
}

func TestDestroyCommandRequiresConfig(t *testing.T) {
	cmd := Destroy()
	assert.Equal(t, "destroy", cmd.Use)
	cmd.SetArgs([]string{})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestStatusCommandRequiresStackArg(t *testing.T) {
	cmd := Status()
	require.NotNil(t, cmd.Args)
	assert.Error(t, cmd.Args(cmd, []string{}))
	assert.NoError(t, cmd.Args(cmd, []string{"demo"}))
}

func TestCostCommandFlags(t *testing.T) {
	cmd := Cost()
	assert.Equal(t, "cost", cmd.Use)
	assert.NotNil(t, cmd.Flags().Lookup("json"))
	assert.NotNil(t, cmd.Flags().Lookup("storage-gb"))
}
