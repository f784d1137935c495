// Package config holds the settings shared by the sigplay drivers, read from an optional TOML
// file and overridden by command-line flags.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/sharnoff/sigplay"
)

// Config is the file format:
//
//	sa_flags   = "ri"
//	cycle_time = 2.4
//	workers    = ["w1", "s1"]
//	log_level  = "info"
//	log_format = "console"
type Config struct {
	SAFlags   string   `toml:"sa_flags"`
	CycleTime float64  `toml:"cycle_time"`
	Workers   []string `toml:"workers"`
	LogLevel  string   `toml:"log_level"`
	LogFormat string   `toml:"log_format"`
}

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Default returns the settings used when there's no file.
func Default() Config {
	return Config{
		SAFlags:   "r",
		CycleTime: 2.4,
		LogLevel:  "info",
		LogFormat: FormatConsole,
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "reading config")
	}
	return Parse(string(data))
}

// Parse decodes TOML text over the defaults. Unknown keys are an error.
func Parse(text string) (Config, error) {
	cfg := Default()
	md, err := toml.Decode(text, &cfg)
	if err != nil {
		return cfg, errors.Wrap(err, "decoding config")
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return cfg, errors.Errorf("unknown config key %q", undecoded[0].String())
	}
	return cfg, cfg.Validate()
}

// Validate checks every field.
func (c Config) Validate() error {
	if _, err := sigplay.ParseFlags(c.SAFlags); err != nil {
		return errors.Wrap(err, "sa_flags")
	}
	if _, err := sigplay.ToTimespec(c.CycleTime); err != nil {
		return errors.Wrap(err, "cycle_time")
	}
	if len(c.Workers) > sigplay.DefaultCapacity {
		return errors.Errorf("workers: at most %d, got %d", sigplay.DefaultCapacity, len(c.Workers))
	}
	for _, w := range c.Workers {
		if w == "" || len(w) > sigplay.MaxLabelLen {
			return errors.Errorf("workers: label %q must be 1 to %d bytes", w, sigplay.MaxLabelLen)
		}
	}
	switch c.LogFormat {
	case FormatConsole, FormatJSON:
	default:
		return errors.Errorf("log_format: must be %q or %q, got %q", FormatConsole, FormatJSON, c.LogFormat)
	}
	return nil
}

// Flags returns the parsed sa_flags. It must only be called on a validated Config.
func (c Config) Flags() sigplay.Flags {
	f, err := sigplay.ParseFlags(c.SAFlags)
	if err != nil {
		panic(err)
	}
	return f
}
