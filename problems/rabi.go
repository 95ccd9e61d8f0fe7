// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package problems

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// minProb keeps the binomial weights finite for outcomes observed with
// frequency 0 or 1.
const minProb = 1e-4

// Rabi is count data of a single-qubit rotation repeated k times and then
// measured. With rotation angle θ and symmetric readout error η the
// probability of the excited outcome is
//
//	p(k) = η + (1 - 2η) sin²(kθ/2)
//
// The residual of sequence k is the weighted difference between model and
// observed frequency, √N (p(k) - q(k)) / √(q(k)(1 - q(k))), the χ²
// form fitted by tomography.
type Rabi struct {
	Shots  float64   // shots per sequence
	Reps   []int     // repetition count of each sequence
	Counts []float64 // excited outcomes observed for each sequence
}

// DefaultRabi returns noiseless data for θ = π/2 + 0.03 and η = 0.02.
func DefaultRabi() Rabi {
	reps := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 12, 16}
	r, _ := SimulateRabi(math.Pi/2+0.03, 0.02, 1000, reps)
	return r
}

// SimulateRabi generates expected counts for the given angle and readout error.
func SimulateRabi(theta, eta, shots float64, reps []int) (Rabi, error) {
	switch {
	case shots <= 0:
		return Rabi{}, errors.New("shots must greater than 0")
	case len(reps) == 0:
		return Rabi{}, errors.New("at least one sequence is required")
	case eta < 0 || eta >= 0.5:
		return Rabi{}, fmt.Errorf("readout error %g outside [0, 0.5)", eta)
	}
	counts := make([]float64, len(reps))
	for i, k := range reps {
		counts[i] = shots * rabiProb(theta, eta, k)
	}
	return Rabi{Shots: shots, Reps: append([]int(nil), reps...), Counts: counts}, nil
}

func rabiProb(theta, eta float64, k int) float64 {
	s := math.Sin(float64(k) * theta / 2)
	return eta + (1-2*eta)*s*s
}

// Problem returns the fit of (θ, η) started at (π/2, 0).
func (r Rabi) Problem() Problem {
	m := len(r.Reps)
	weight := make([]float64, m)
	freq := make([]float64, m)
	for i, c := range r.Counts {
		q := c / r.Shots
		freq[i] = q
		weight[i] = math.Sqrt(r.Shots / math.Max(q*(1-q), minProb))
	}
	reps := r.Reps
	return Problem{
		Name: "rabi",
		N:    2, M: m,
		X0: []float64{math.Pi / 2, 0},
		Residual: func(x, f []float64) {
			for i, k := range reps {
				f[i] = weight[i] * (rabiProb(x[0], x[1], k) - freq[i])
			}
		},
		Jacobian: func(x []float64, jac *mat.Dense) {
			theta, eta := x[0], x[1]
			for i, k := range reps {
				kf := float64(k)
				jac.Set(i, 0, weight[i]*(1-2*eta)*kf/2*math.Sin(kf*theta))
				jac.Set(i, 1, weight[i]*math.Cos(kf*theta))
			}
		},
	}
}
