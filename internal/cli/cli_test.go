package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildParser_RegistersCommands(t *testing.T) {
	parser, _, cmds := buildParser("1.2.3")

	for _, name := range []string{"serve", "status", "sync", "purge"} {
		assert.NotNil(t, parser.Find(name), "command %s should be registered", name)
	}
	assert.Equal(t, "1.2.3", cmds.Serve.version)
	assert.Equal(t, "trailgraph", parser.Name)
}

func TestRunWithArgs_Version(t *testing.T) {
	assert.NoError(t, RunWithArgs("1.2.3", []string{"--version"}))
	assert.NoError(t, RunWithArgs("1.2.3", []string{"serve", "--version"}))
}

func TestRunWithArgs_UnknownCommand(t *testing.T) {
	assert.Error(t, RunWithArgs("1.2.3", []string{"bogus"}))
}

func TestPurge_RequiresAll(t *testing.T) {
	cmd := &PurgeCommand{globals: &GlobalFlags{}}
	err := cmd.Execute(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--all")
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "0", formatNumber(0))
	assert.Equal(t, "999", formatNumber(999))
	assert.Equal(t, "1,000", formatNumber(1000))
	assert.Equal(t, "1,234,567", formatNumber(1234567))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.0 KB", formatBytes(1024))
	assert.Equal(t, "1.5 MB", formatBytes(3*1024*1024/2))
}
