// Package conf holds the configuration of the update test server.
package conf

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

const (
	// DefaultPort is the fixed port the update client is pointed at.
	DefaultPort = 8080
	// DefaultVersionFile is the version descriptor served on /version.json.
	DefaultVersionFile = "test_version.json"
	// DefaultInstallerPath is where the installer build drops its output,
	// relative to the serving directory.
	DefaultInstallerPath = "../../installer/output/LogiSetup.exe"
	// DefaultChunkSize bounds the buffer used to stream the installer.
	DefaultChunkSize = 8192
)

var (
	errDirMissing   = errors.New("conf: serving directory is not set")
	errBadChunkSize = errors.New("conf: chunk size must be positive")
)

// Config contains everything configurable for the test server.
type Config struct {
	Port             int           `yaml:"-"`
	Host             string        `yaml:"-"`
	Dir              string        `yaml:"dir"`
	VersionFile      string        `yaml:"version_file"`
	InstallerPath    string        `yaml:"installer_path"`
	ChunkSize        int           `yaml:"-"`
	DebugEnabled     bool          `yaml:"debug"`
	ProfilingEnabled bool          `yaml:"profiling"`
	LogFlushInterval time.Duration `yaml:"log_flush_interval"`
}

// New returns a Config with defaults. Dir is the directory of the
// running executable, or the working directory if that can not be
// determined.
func New() *Config {
	return &Config{
		Port:             DefaultPort,
		Dir:              executableDir(),
		VersionFile:      DefaultVersionFile,
		InstallerPath:    DefaultInstallerPath,
		ChunkSize:        DefaultChunkSize,
		LogFlushInterval: 5 * time.Second,
	}
}

// Load reads the YAML file at path over the defaults of New. A
// relative dir is resolved against the directory of the file.
func Load(path string) (*Config, error) {
	cfg := New()
	defaultDir := cfg.Dir
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "conf: failed to read %s", path)
	}
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, errors.Wrapf(err, "conf: failed to parse %s", path)
	}
	if cfg.Dir != defaultDir && cfg.Dir != "" && !filepath.IsAbs(cfg.Dir) {
		cfg.Dir = filepath.Join(filepath.Dir(path), cfg.Dir)
	}
	return cfg, nil
}

// Validate checks that the configuration can be served.
func (cfg *Config) Validate() error {
	if cfg.Dir == "" {
		return errDirMissing
	}
	if cfg.ChunkSize <= 0 {
		return errBadChunkSize
	}
	return nil
}

// Addr is the listen address.
func (cfg *Config) Addr() string {
	return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
}

// VersionFilePath returns the version descriptor path resolved against Dir.
func (cfg *Config) VersionFilePath() string {
	return cfg.resolve(cfg.VersionFile)
}

// InstallerFilePath returns the installer path resolved against Dir.
func (cfg *Config) InstallerFilePath() string {
	return cfg.resolve(cfg.InstallerPath)
}

func (cfg *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(cfg.Dir, p)
}

func executableDir() string {
	exe, err := os.Executable()
	if err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		return filepath.Dir(exe)
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}
