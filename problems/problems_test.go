// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package problems

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/lmfit/numdiff"
)

func TestAnalyticJacobians(t *testing.T) {
	for _, name := range Names() {
		p, err := Named(name)
		require.NoError(t, err)

		approx := numdiff.ApproxSpec{N: p.N, M: p.M, Object: p.Residual, Method: numdiff.Central}

		// perturb the start so no jacobian entry is trivially zero
		x := p.Start()
		for i := range x {
			x[i] += 0.1 * float64(i+1)
		}

		want := mat.NewDense(p.M, p.N, nil)
		require.NoError(t, approx.Diff(x, want), name)
		got := mat.NewDense(p.M, p.N, nil)
		p.Jacobian(x, got)

		scale := math.Max(1, mat.Norm(want, math.Inf(1)))
		assert.True(t, mat.EqualApprox(got, want, 1e-6*scale), "%s:\n%v\n%v", name, mat.Formatted(got), mat.Formatted(want))
	}
}

func TestSolutions(t *testing.T) {
	for _, name := range Names() {
		p, err := Named(name)
		require.NoError(t, err)
		if p.Solution == nil {
			continue
		}
		f := make([]float64, p.M)
		p.Residual(p.Solution, f)
		assert.InDelta(t, p.MinNorm2, floats.Dot(f, f), 1e-12, name)
	}
}

func TestRabiModel(t *testing.T) {
	theta, eta := math.Pi/2+0.03, 0.02
	r := DefaultRabi()
	require.Len(t, r.Counts, len(r.Reps))

	p := r.Problem()
	f := make([]float64, p.M)
	p.Residual([]float64{theta, eta}, f)
	assert.InDelta(t, 0, floats.Norm(f, 2), 1e-9)

	p.Residual(p.Start(), f)
	assert.Greater(t, floats.Dot(f, f), 1.0)

	_, err := SimulateRabi(theta, 0.5, 1000, r.Reps)
	assert.Error(t, err)
	_, err = SimulateRabi(theta, eta, 0, r.Reps)
	assert.Error(t, err)
	_, err = SimulateRabi(theta, eta, 1000, nil)
	assert.Error(t, err)
}

func TestNamed(t *testing.T) {
	names := Names()
	assert.Equal(t, []string{"biggs-exp6", "freudenstein-roth", "linear", "powell", "rabi", "rosenbrock"}, names)

	for _, name := range names {
		p, err := Named(name)
		require.NoError(t, err)
		assert.Equal(t, name, p.Name)
		assert.Len(t, p.X0, p.N)

		// Start hands out copies
		x := p.Start()
		x[0] += 1
		assert.NotEqual(t, x[0], p.X0[0])
	}

	_, err := Named("himmelblau")
	assert.Error(t, err)
}
