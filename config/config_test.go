// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curioloop/lmfit/lm"
)

func TestParseEmptyKeepsDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, lm.DefaultTermination(), cfg.Stop())
	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Nil(t, cfg.NumDiff)
}

func TestParseOverrides(t *testing.T) {
	cfg, err := Parse([]byte(`
termination:
  f_norm2_tol: 1.0e-10
  max_iter: 250
damping:
  tau: 1.0e-2
workers: 4
verbosity: 2
log_format: json
profile: true
numdiff:
  method: central
  workers: 2
problems: [rosenbrock, rabi]
`))
	require.NoError(t, err)

	stop := cfg.Stop()
	assert.Equal(t, 1e-10, stop.FNorm2Tolerance)
	assert.Equal(t, 250, stop.MaxIterations)
	// untouched keys keep their defaults
	assert.Equal(t, 1e-6, stop.RelXTolerance)
	assert.Equal(t, lm.Damping{Tau: 1e-2}, cfg.Damp())
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, lm.LogInner, cfg.LogLevel())
	assert.True(t, cfg.Profile)
	require.NotNil(t, cfg.NumDiff)
	assert.Equal(t, "central", cfg.NumDiff.Method)
	assert.Equal(t, []string{"rosenbrock", "rabi"}, cfg.Problems)
}

func TestParseInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown key":    "tolerance: 1",
		"negative tol":   "termination: {rel_ftol: -1}",
		"negative iter":  "termination: {max_iter: -1}",
		"workers":        "workers: 0",
		"verbosity":      "verbosity: 3",
		"log format":     "log_format: xml",
		"nu limit":       "damping: {half_max_nu: 1}",
		"numdiff method": "numdiff: {method: backward}",
		"duplicate":      "problems: [powell, powell]",
		"syntax":         "workers: [",
	}
	for name, doc := range cases {
		_, err := Parse([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("termination: {max_iter: 7}\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Stop().MaxIterations)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
