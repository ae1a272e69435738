// Package config holds the rewriter settings read from a YAML file and
// overridden by command line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/colorfulnotion/avx2rw/log"
	"github.com/colorfulnotion/avx2rw/regs"
	"github.com/colorfulnotion/avx2rw/rewrite"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Strategy string   `yaml:"strategy"`
	Strict   bool     `yaml:"strict,omitempty"`
	LogLevel string   `yaml:"log_level"`
	Modules  string   `yaml:"modules,omitempty"`  // comma separated log modules, or "all"
	Events   string   `yaml:"events,omitempty"`   // JSONL rewrite event file
	Metrics  string   `yaml:"metrics,omitempty"`  // Prometheus text dump written on exit
	Reserved []string `yaml:"reserved,omitempty"` // physical vector registers kept away from the remapping allocator
}

func Default() Config {
	return Config{
		Strategy: rewrite.StrategyAuto.String(),
		LogLevel: "info",
	}
}

// Load reads path over the defaults. Unknown keys are an error.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	return Read(f)
}

func Read(r io.Reader) (Config, error) {
	c := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return c, fmt.Errorf("config: %w", err)
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	if _, err := rewrite.ParseStrategy(c.Strategy); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := c.reserved(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (c Config) reserved() ([]regs.Reg, error) {
	out := make([]regs.Reg, 0, len(c.Reserved))
	for _, name := range c.Reserved {
		r, err := regs.Parse(name)
		if err != nil {
			return nil, err
		}
		if !r.IsVector() || !r.IsPhysical() {
			return nil, fmt.Errorf("reserved register %s is not a physical vector register", r)
		}
		out = append(out, r)
	}
	return out, nil
}

// Options converts the settings for rewrite.New.
func (c Config) Options() (rewrite.Options, error) {
	st, err := rewrite.ParseStrategy(c.Strategy)
	if err != nil {
		return rewrite.Options{}, err
	}
	res, err := c.reserved()
	if err != nil {
		return rewrite.Options{}, err
	}
	return rewrite.Options{Strategy: st, Strict: c.Strict, Reserved: res}, nil
}

// Marshal renders the settings as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
