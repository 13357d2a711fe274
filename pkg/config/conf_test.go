package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	dir := t.TempDir()

	c1, err := ReadOrCreate(dir)
	require.NoError(t, err)
	require.NotNil(t, c1)
	assert.Equal(t, filepath.Join(dir, modelFileName), c1.ModelPath)
	assert.Equal(t, filepath.Join(dir, dataFileName), c1.DBPath)
	assert.Equal(t, FormatJSON, c1.Format)
	assert.True(t, c1.Fallback)
	assert.Equal(t, defaultWorkers, c1.Workers)

	c1.Workers = 2
	c1.Fallback = false
	c1.Format = FormatYAML

	err = Save(dir, c1)
	assert.NoError(t, err)

	c2, err := ReadOrCreate(dir)
	require.NoError(t, err)
	assert.Equal(t, c1, c2)
}

func TestReadOrCreate_NestedDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	c, err := ReadOrCreate(dir)
	require.NoError(t, err)
	assert.NotNil(t, c)
	_, err = os.Stat(filepath.Join(dir, configFileName))
	assert.NoError(t, err)
}

func TestReadOrCreate_PartialFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte("format: text\n"), fileMode))

	c, err := ReadOrCreate(dir)
	require.NoError(t, err)
	assert.Equal(t, FormatText, c.Format)
	assert.Equal(t, filepath.Join(dir, modelFileName), c.ModelPath)
	assert.Equal(t, defaultWorkers, c.Workers)
}

func TestReadOrCreate_Errors(t *testing.T) {
	_, err := ReadOrCreate("")
	assert.Error(t, err)

	tests := map[string]string{
		"bad yaml":    "format: [json\n",
		"bad format":  "format: xml\n",
		"bad workers": "workers: 0\n",
		"no model":    "model_path: \"\"\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(content), fileMode))
			_, err := ReadOrCreate(dir)
			assert.Error(t, err)
		})
	}
}

func TestSave_Errors(t *testing.T) {
	assert.Error(t, Save("", &Config{}))
	assert.Error(t, Save(t.TempDir(), nil))
}

func TestIsFormat(t *testing.T) {
	assert.True(t, IsFormat("json"))
	assert.True(t, IsFormat("yaml"))
	assert.True(t, IsFormat("text"))
	assert.False(t, IsFormat("JSON"))
	assert.False(t, IsFormat(""))
}

func TestGetOrCreateHomeDir(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	dir, created, err := GetOrCreateHomeDir("day0")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, ".day0", filepath.Base(dir))

	_, created, err = GetOrCreateHomeDir(".day0")
	require.NoError(t, err)
	assert.False(t, created)

	_, _, err = GetOrCreateHomeDir("")
	assert.Error(t, err)
}
