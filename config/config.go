// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads solver run configurations from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/curioloop/lmfit/lm"
	"github.com/curioloop/lmfit/numdiff"
)

// Config describes a batch of solver runs.
type Config struct {
	Termination Termination `yaml:"termination"`
	Damping     Damping     `yaml:"damping"`
	// Number of in-process participants of the JᵀJ reduction.
	Workers int `yaml:"workers"`
	// 0 silent, 1 outer iterations, 2 damping trials.
	Verbosity int `yaml:"verbosity"`
	// Log format, "console" or "json".
	LogFormat string `yaml:"log_format"`
	// Collect section timings and memory checkpoints.
	Profile  bool     `yaml:"profile"`
	NumDiff  *NumDiff `yaml:"numdiff"`
	Problems []string `yaml:"problems"`
}

// Termination mirrors lm.Termination.
type Termination struct {
	FNorm2Tol  float64 `yaml:"f_norm2_tol"`
	JacNormTol float64 `yaml:"jac_norm_tol"`
	RelFTol    float64 `yaml:"rel_ftol"`
	RelXTol    float64 `yaml:"rel_xtol"`
	MaxIter    int     `yaml:"max_iter"`
}

// Damping mirrors lm.Damping, zero selects the solver default.
type Damping struct {
	Tau           float64 `yaml:"tau"`
	MachPrecision float64 `yaml:"mach_precision"`
	HalfMaxNu     float64 `yaml:"half_max_nu"`
}

// NumDiff replaces analytic jacobians by finite differences when present.
type NumDiff struct {
	Method  string  `yaml:"method"`
	RelStep float64 `yaml:"rel_step"`
	AbsStep float64 `yaml:"abs_step"`
	Workers int     `yaml:"workers"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	t := lm.DefaultTermination()
	return &Config{
		Termination: Termination{
			FNorm2Tol:  t.FNorm2Tolerance,
			JacNormTol: t.JacNormTolerance,
			RelFTol:    t.RelFTolerance,
			RelXTol:    t.RelXTolerance,
			MaxIter:    t.MaxIterations,
		},
		Workers:   1,
		LogFormat: "console",
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	t := c.Termination
	switch {
	case t.FNorm2Tol < 0:
		return fmt.Errorf("f_norm2_tol cannot be negative")
	case t.JacNormTol < 0:
		return fmt.Errorf("jac_norm_tol cannot be negative")
	case t.RelFTol < 0:
		return fmt.Errorf("rel_ftol cannot be negative")
	case t.RelXTol < 0:
		return fmt.Errorf("rel_xtol cannot be negative")
	case t.MaxIter < 0:
		return fmt.Errorf("max_iter cannot be negative")
	case c.Damping.Tau < 0 || c.Damping.MachPrecision < 0:
		return fmt.Errorf("damping constants cannot be negative")
	case c.Damping.HalfMaxNu != 0 && c.Damping.HalfMaxNu < 2:
		return fmt.Errorf("half_max_nu must be at least 2")
	case c.Workers < 1:
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	case c.Verbosity < 0 || c.Verbosity > int(lm.LogInner):
		return fmt.Errorf("verbosity must be between 0 and %d", lm.LogInner)
	case c.LogFormat != "console" && c.LogFormat != "json":
		return fmt.Errorf("invalid log_format: %s (must be console or json)", c.LogFormat)
	}
	if c.NumDiff != nil {
		if _, err := numdiff.ParseMethod(c.NumDiff.Method); err != nil {
			return fmt.Errorf("numdiff: %w", err)
		}
		if c.NumDiff.Workers < 0 {
			return fmt.Errorf("numdiff: workers cannot be negative")
		}
	}
	seen := make(map[string]bool, len(c.Problems))
	for _, name := range c.Problems {
		if name == "" {
			return fmt.Errorf("problem name cannot be empty")
		}
		if seen[name] {
			return fmt.Errorf("duplicate problem: %s", name)
		}
		seen[name] = true
	}
	return nil
}

// Stop converts the termination section for the solver.
func (c *Config) Stop() lm.Termination {
	t := c.Termination
	return lm.Termination{
		FNorm2Tolerance:  t.FNorm2Tol,
		JacNormTolerance: t.JacNormTol,
		RelFTolerance:    t.RelFTol,
		RelXTolerance:    t.RelXTol,
		MaxIterations:    t.MaxIter,
	}
}

// Damp converts the damping section for the solver.
func (c *Config) Damp() lm.Damping {
	return lm.Damping{
		Tau:           c.Damping.Tau,
		MachPrecision: c.Damping.MachPrecision,
		HalfMaxNu:     c.Damping.HalfMaxNu,
	}
}

// LogLevel converts the verbosity for the solver.
func (c *Config) LogLevel() lm.LogLevel {
	return lm.LogLevel(c.Verbosity)
}
