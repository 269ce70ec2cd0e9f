package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowbench-org/flowbench/internal/cmn/build"
)

func TestVersionCommand(t *testing.T) {
	cmd := versionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), build.Version)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "flowbench.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
server:
  port: 9999
orchestrator:
  baseurl: http://engine:8080
`), 0o600))

	cfgFile = file
	t.Cleanup(func() { cfgFile = "" })

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "http://engine:8080", cfg.Orchestrator.BaseURL)
	// defaults still fill the rest
	assert.Equal(t, "flowbench", cfg.Database.Name)
}
