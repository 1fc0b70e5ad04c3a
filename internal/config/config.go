// Package config loads the taskManager's YAML startup configuration:
// listen address, the cutelogActions viewer endpoint, and the file-path
// pair advertised to clients.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TaskManagerConfig is the `taskManager:` section.
type TaskManagerConfig struct {
	Interface string `yaml:"interface"`
	Port      int    `yaml:"port"`
}

// CutelogActionsConfig is the `cutelogActions:` section — the external log
// viewer the Sink connects to.
type CutelogActionsConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// FilesConfig is the `files:` section, advertised to clients verbatim via
// the workerQuery reply.
type FilesConfig struct {
	Orig string `yaml:"orig"`
	Dest string `yaml:"dest"`
}

// Config is the top-level YAML configuration document.
type Config struct {
	TaskManager    TaskManagerConfig    `yaml:"taskManager"`
	CutelogActions CutelogActionsConfig `yaml:"cutelogActions"`
	Files          FilesConfig          `yaml:"files"`
}

// Defaults applied when the YAML document omits a field.
const (
	DefaultInterface   = "0.0.0.0"
	DefaultPort        = 8888
	DefaultCutelogHost = "localhost"
	DefaultCutelogPort = 19996
)

// withDefaults fills in any field the YAML document left zero-valued.
func (c Config) withDefaults() Config {
	if c.TaskManager.Interface == "" {
		c.TaskManager.Interface = DefaultInterface
	}
	if c.TaskManager.Port == 0 {
		c.TaskManager.Port = DefaultPort
	}
	if c.CutelogActions.Host == "" {
		c.CutelogActions.Host = DefaultCutelogHost
	}
	if c.CutelogActions.Port == 0 {
		c.CutelogActions.Port = DefaultCutelogPort
	}
	return c
}

// Load reads and parses the YAML configuration file at path, applying
// defaults for anything omitted. A missing file is a fatal startup error.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("could not load config %s: %w", path, err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("could not parse config %s: %w", path, err)
	}

	return c.withDefaults(), nil
}
