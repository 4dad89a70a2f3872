// Package config loads the YAML configuration shared by the command line
// tools.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/eichs/unityfs/internal/bundle"
	"github.com/eichs/unityfs/internal/tpk"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"
)

// DefaultFallbackVersion is assumed for files whose engine version was
// stripped.
const DefaultFallbackVersion = "2.5.0f5"

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("unityversion", func(fl validator.FieldLevel) bool {
		_, err := tpk.ParseVersion(fl.Field().String())
		return err == nil
	})
}

type Config struct {
	LogLevel             string  `yaml:"log_level" validate:"oneof=trace debug info warn warning error fatal panic"`
	LogFile              LogFile `yaml:"log_file"`
	TPKPath              string  `yaml:"tpk_path"`
	StrictByteCount      bool    `yaml:"strict_byte_count"`
	FallbackUnityVersion string  `yaml:"fallback_unity_version" validate:"required,unityversion"`
	ScriptTreeCache      int     `yaml:"script_tree_cache" validate:"gte=0"`
	PeekCache            int     `yaml:"peek_cache" validate:"gte=0"`
	Save                 Save    `yaml:"save"`
	Metrics              Metrics `yaml:"metrics"`
}

// LogFile sends log output to a rotated file instead of stderr when Path
// is set.
type LogFile struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"gte=0"`
	Compress   bool   `yaml:"compress"`
}

// Save is the compression profile used when bundles are written.
type Save struct {
	Packer         string `yaml:"packer" validate:"oneof=none original lz4 lzma explicit"`
	BlockInfoFlags uint32 `yaml:"block_info_flags" validate:"lte=63"`
	DataFlags      uint32 `yaml:"data_flags" validate:"lte=63"`
}

type Metrics struct {
	Enabled bool `yaml:"enabled"`
}

func Default() *Config {
	return &Config{
		LogLevel:             "info",
		FallbackUnityVersion: DefaultFallbackVersion,
		Save:                 Save{Packer: string(bundle.PackerOriginal)},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %s check (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return errors.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// Profile returns the bundle save profile.
func (c *Config) Profile() bundle.Profile {
	return bundle.Profile{
		Packer:         bundle.Packer(c.Save.Packer),
		BlockInfoFlags: c.Save.BlockInfoFlags,
		DataFlags:      c.Save.DataFlags,
	}
}

// SetupLogging applies the log level and output.
func (c *Config) SetupLogging(logger *logrus.Logger) error {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return errors.Wrap(err, "log level")
	}
	logger.SetLevel(level)
	if c.LogFile.Path != "" {
		logger.SetOutput(&lumberjack.Logger{
			Filename:   c.LogFile.Path,
			MaxSize:    c.LogFile.MaxSizeMB,
			MaxBackups: c.LogFile.MaxBackups,
			MaxAge:     c.LogFile.MaxAgeDays,
			Compress:   c.LogFile.Compress,
		})
	}
	return nil
}
