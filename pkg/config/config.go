// Package config loads the lpmbox configuration: where the images, tools
// and logs live, how to run the flashing tool and the decrypt helper, and
// where tool packages are downloaded from.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Dirs struct {
	Image         string `yaml:"image" toml:"image"`
	Tools         string `yaml:"tools" toml:"tools"`
	Logs          string `yaml:"logs" toml:"logs"`
	PlatformTools string `yaml:"platform_tools" toml:"platform_tools"`
	LkDtbo        string `yaml:"lk_dtbo" toml:"lk_dtbo"`
	Readback      string `yaml:"readback" toml:"readback"`
	Downloads     string `yaml:"downloads" toml:"downloads"`
}

type FlashTool struct {
	// Executable of the flashing tool, relative to the tools dir
	Executable string `yaml:"executable" toml:"executable"`
	// Args for a console firmware upgrade, "{flash_xml}" is replaced by
	// the flash configuration path
	Args []string `yaml:"args" toml:"args"`
	// FlashXML candidates, relative to the tools dir, first existing wins
	FlashXML []string `yaml:"flash_xml" toml:"flash_xml"`
}

type Command struct {
	Command string   `yaml:"command" toml:"command"`
	Args    []string `yaml:"args" toml:"args"`
}

type ToolPackage struct {
	Name string   `yaml:"name" toml:"name"`
	URLs []string `yaml:"urls" toml:"urls"`
	// SHA256 of the archive, verification is skipped when empty
	SHA256 string `yaml:"sha256" toml:"sha256"`
	// Dest is the extraction directory, relative to the base dir
	Dest string `yaml:"dest" toml:"dest"`
	// Marker is a path relative to Dest whose presence means installed
	Marker string `yaml:"marker" toml:"marker"`
}

type Release struct {
	Owner   string `yaml:"owner" toml:"owner"`
	Repo    string `yaml:"repo" toml:"repo"`
	Current string `yaml:"current" toml:"current"`
}

type Timing struct {
	PollSeconds     int `yaml:"poll_seconds" toml:"poll_seconds"`
	SettleSeconds   int `yaml:"settle_seconds" toml:"settle_seconds"`
	DeviceTimeout   int `yaml:"device_timeout_seconds" toml:"device_timeout_seconds"`
	FastbootTimeout int `yaml:"fastboot_timeout_seconds" toml:"fastboot_timeout_seconds"`
}

type Config struct {
	BaseDir   string        `yaml:"base_dir" toml:"base_dir"`
	Dirs      Dirs          `yaml:"dirs" toml:"dirs"`
	FlashTool FlashTool     `yaml:"flash_tool" toml:"flash_tool"`
	Decrypt   Command       `yaml:"decrypt" toml:"decrypt"`
	Packages  []ToolPackage `yaml:"packages" toml:"packages"`
	Release   Release       `yaml:"release" toml:"release"`
	Timing    Timing        `yaml:"timing" toml:"timing"`
}

func platformToolsURL() string {
	goos := runtime.GOOS
	if goos != "windows" && goos != "darwin" {
		goos = "linux"
	}
	return fmt.Sprintf("https://dl.google.com/android/repository/platform-tools-latest-%s.zip", goos)
}

func Default() *Config {
	exe := "SPFlashToolV6"
	adb := "platform-tools/adb"
	if runtime.GOOS == "windows" {
		exe += ".exe"
		adb += ".exe"
	}
	return &Config{
		BaseDir: ".",
		Dirs: Dirs{
			Image:         "image",
			Tools:         "bin/tools",
			Logs:          "logs",
			PlatformTools: "bin/platform-tools",
			LkDtbo:        "bin/lk_dtbo",
			Readback:      "bin/tools/readback",
			Downloads:     "bin/downloads",
		},
		FlashTool: FlashTool{
			Executable: exe,
			Args:       []string{"-c", "firmware-upgrade", "-f", "{flash_xml}"},
			FlashXML:   []string{"flash.xml", "download_agent/flash.xml"},
		},
		Packages: []ToolPackage{
			{
				Name:   "platform-tools",
				URLs:   []string{platformToolsURL()},
				Dest:   "bin",
				Marker: adb,
			},
		},
		Release: Release{
			Owner: "dwas-KR",
			Repo:  "LPMBox",
		},
		Timing: Timing{
			PollSeconds:     2,
			SettleSeconds:   3,
			FastbootTimeout: 60,
		},
	}
}

// Load reads the configuration from a YAML (.yaml, .yml) or TOML (.toml)
// file on top of the defaults. An empty path returns the defaults. Unknown
// keys are an error.
func Load(path string) (*Config, error) {
	conf := Default()
	if path == "" {
		return conf, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(conf); err != nil {
			return nil, fmt.Errorf("cannot decode %q: %w", path, err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), conf)
		if err != nil {
			return nil, fmt.Errorf("cannot decode %q: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown keys in %q: %v", path, undecoded)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q", ext)
	}

	if conf.BaseDir == "" {
		conf.BaseDir = filepath.Dir(path)
	}
	return conf, nil
}

// Path resolves rel against the base dir.
func (c *Config) Path(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(c.BaseDir, rel)
}

func (c *Config) PollInterval() time.Duration {
	if c.Timing.PollSeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.Timing.PollSeconds) * time.Second
}

// DeviceTimeout is zero when waits for a device are unbounded.
func (c *Config) DeviceTimeout() time.Duration {
	return time.Duration(c.Timing.DeviceTimeout) * time.Second
}

func (c *Config) FastbootTimeout() time.Duration {
	return time.Duration(c.Timing.FastbootTimeout) * time.Second
}

func (c *Config) Settle() time.Duration {
	return time.Duration(c.Timing.SettleSeconds) * time.Second
}

// Layout is the resolved on-disk layout of a configuration.
type Layout struct {
	ImageDir         string
	ToolsDir         string
	LogsDir          string
	PlatformToolsDir string
	LkDtboDir        string
	ReadbackDir      string
	DownloadsDir     string
}

func (c *Config) Layout() Layout {
	return Layout{
		ImageDir:         c.Path(c.Dirs.Image),
		ToolsDir:         c.Path(c.Dirs.Tools),
		LogsDir:          c.Path(c.Dirs.Logs),
		PlatformToolsDir: c.Path(c.Dirs.PlatformTools),
		LkDtboDir:        c.Path(c.Dirs.LkDtbo),
		ReadbackDir:      c.Path(c.Dirs.Readback),
		DownloadsDir:     c.Path(c.Dirs.Downloads),
	}
}

// FlashXMLCandidates returns the absolute flash configuration candidates.
func (c *Config) FlashXMLCandidates() []string {
	tools := c.Layout().ToolsDir
	res := make([]string, 0, len(c.FlashTool.FlashXML))
	for _, p := range c.FlashTool.FlashXML {
		if filepath.IsAbs(p) {
			res = append(res, p)
			continue
		}
		res = append(res, filepath.Join(tools, p))
	}
	return res
}

// Package returns the tool package with the given name.
func (c *Config) Package(name string) (ToolPackage, bool) {
	for _, p := range c.Packages {
		if p.Name == name {
			return p, true
		}
	}
	return ToolPackage{}, false
}
