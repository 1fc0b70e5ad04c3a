package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "taskManager.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `{}`)

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultInterface, c.TaskManager.Interface)
	assert.Equal(t, DefaultPort, c.TaskManager.Port)
	assert.Equal(t, DefaultCutelogHost, c.CutelogActions.Host)
	assert.Equal(t, DefaultCutelogPort, c.CutelogActions.Port)
}

func TestLoadHonorsExplicitValues(t *testing.T) {
	path := writeTempConfig(t, `
taskManager:
  interface: 127.0.0.1
  port: 9999
cutelogActions:
  host: viewer.local
  port: 12345
files:
  orig: /srv/orig
  dest: /mnt/dest
`)

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", c.TaskManager.Interface)
	assert.Equal(t, 9999, c.TaskManager.Port)
	assert.Equal(t, "viewer.local", c.CutelogActions.Host)
	assert.Equal(t, 12345, c.CutelogActions.Port)
	assert.Equal(t, "/srv/orig", c.Files.Orig)
	assert.Equal(t, "/mnt/dest", c.Files.Dest)
}

func TestLoadMissingFileIsFatal(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}
