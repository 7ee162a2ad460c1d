package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lpmbox/lpmbox/pkg/config"
)

var fakeConfigYAML = `
dirs:
  image: firmware
flash_tool:
  executable: flash_tool
  args: ["-s", "{flash_xml}"]
decrypt:
  command: scatter-decrypt
  args: ["--stdin"]
timing:
  poll_seconds: 5
`

var fakeConfigToml = `
[dirs]
image = "firmware"

[flash_tool]
executable = "flash_tool"
args = ["-s", "{flash_xml}"]

[decrypt]
command = "scatter-decrypt"
args = ["--stdin"]

[timing]
poll_seconds = 5
`

func makeFakeConfig(t *testing.T, filename, content string) string {
	t.Helper()
	tmpdir := t.TempDir()
	fakeCfgPath := filepath.Join(tmpdir, filename)
	err := os.WriteFile(fakeCfgPath, []byte(content), 0644)
	require.NoError(t, err)
	return fakeCfgPath
}

func TestLoadDefaults(t *testing.T) {
	conf, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), conf)
	assert.Equal(t, 2*time.Second, conf.PollInterval())
	assert.Equal(t, time.Duration(0), conf.DeviceTimeout())
	assert.Equal(t, 60*time.Second, conf.FastbootTimeout())
}

func TestLoadYAMLAndToml(t *testing.T) {
	for _, tc := range []struct {
		fname   string
		content string
	}{
		{"lpmbox.yaml", fakeConfigYAML},
		{"lpmbox.toml", fakeConfigToml},
	} {
		t.Run(tc.fname, func(t *testing.T) {
			path := makeFakeConfig(t, tc.fname, tc.content)

			conf, err := config.Load(path)
			require.NoError(t, err)
			assert.Equal(t, "firmware", conf.Dirs.Image)
			// defaults survive for keys that are not in the file
			assert.Equal(t, "bin/tools", conf.Dirs.Tools)
			assert.Equal(t, []string{"-s", "{flash_xml}"}, conf.FlashTool.Args)
			assert.Equal(t, config.Command{Command: "scatter-decrypt", Args: []string{"--stdin"}}, conf.Decrypt)
			assert.Equal(t, 5*time.Second, conf.PollInterval())
			assert.Equal(t, filepath.Join(".", "firmware"), conf.Layout().ImageDir)
		})
	}
}

func TestLoadUnknownKeys(t *testing.T) {
	for _, tc := range []struct {
		fname   string
		content string
	}{
		{"lpmbox.yaml", "dirz:\n  image: x\n"},
		{"lpmbox.toml", "[dirz]\nimage = \"x\"\n"},
	} {
		path := makeFakeConfig(t, tc.fname, tc.content)
		_, err := config.Load(path)
		assert.Error(t, err, tc.fname)
	}
}

func TestLoadBadExtension(t *testing.T) {
	path := makeFakeConfig(t, "lpmbox.ini", "")
	_, err := config.Load(path)
	assert.EqualError(t, err, `unsupported config file extension ".ini"`)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load("/does/not/exist.yaml")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEmptyBaseDirFollowsConfigFile(t *testing.T) {
	path := makeFakeConfig(t, "lpmbox.yaml", "base_dir: \"\"\n")
	conf, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Dir(path), conf.BaseDir)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "logs"), conf.Layout().LogsDir)
}

func TestFlashXMLCandidates(t *testing.T) {
	conf := config.Default()
	conf.BaseDir = "/opt/lpmbox"
	conf.FlashTool.FlashXML = []string{"flash.xml", "/abs/flash.xml"}
	assert.Equal(t, []string{"/opt/lpmbox/bin/tools/flash.xml", "/abs/flash.xml"}, conf.FlashXMLCandidates())
}

func TestPackage(t *testing.T) {
	conf := config.Default()
	pkg, ok := conf.Package("platform-tools")
	require.True(t, ok)
	assert.Equal(t, "bin", pkg.Dest)
	_, ok = conf.Package("nope")
	assert.False(t, ok)
}
