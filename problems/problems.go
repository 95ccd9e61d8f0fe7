// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package problems collects nonlinear least-squares test problems with
// analytic jacobians, used to exercise and benchmark the solver.
//
// # Reference:
//
//   - J. J. Moré, B. S. Garbow, K. E. Hillstrom, Testing Unconstrained Optimization Software, 1981.
package problems

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Problem is a residual model 𝐟(𝐱) : ℝⁿ → ℝᵐ with its jacobian and a start point.
type Problem struct {
	Name     string
	N, M     int
	X0       []float64
	Residual func(x, f []float64)
	Jacobian func(x []float64, jac *mat.Dense)
	// Known minimizer, nil when the problem has several.
	Solution []float64
	// Sum of squares at Solution.
	MinNorm2 float64
}

// Start returns a copy of the start point.
func (p Problem) Start() []float64 {
	return slices.Clone(p.X0)
}

// Linear is 𝐟(𝐱) = 𝐱 - 𝐭, whose jacobian is the identity.
func Linear(target []float64) Problem {
	t := slices.Clone(target)
	n := len(t)
	return Problem{
		Name: "linear",
		N:    n, M: n,
		X0: make([]float64, n),
		Residual: func(x, f []float64) {
			for i := range f {
				f[i] = x[i] - t[i]
			}
		},
		Jacobian: func(_ []float64, jac *mat.Dense) {
			jac.Zero()
			for i := 0; i < n; i++ {
				jac.Set(i, i, 1)
			}
		},
		Solution: t,
	}
}

// Rosenbrock is f₁ = 10(x₂ - x₁²), f₂ = 1 - x₁ started at (-1.2, 1).
func Rosenbrock() Problem {
	return Problem{
		Name: "rosenbrock",
		N:    2, M: 2,
		X0: []float64{-1.2, 1},
		Residual: func(x, f []float64) {
			f[0] = 10 * (x[1] - x[0]*x[0])
			f[1] = 1 - x[0]
		},
		Jacobian: func(x []float64, jac *mat.Dense) {
			jac.Set(0, 0, -20*x[0])
			jac.Set(0, 1, 10)
			jac.Set(1, 0, -1)
			jac.Set(1, 1, 0)
		},
		Solution: []float64{1, 1},
	}
}

// Powell is the Powell singular function, whose jacobian is singular at the minimizer.
func Powell() Problem {
	s5, s10 := math.Sqrt(5), math.Sqrt(10)
	return Problem{
		Name: "powell",
		N:    4, M: 4,
		X0: []float64{3, -1, 0, 1},
		Residual: func(x, f []float64) {
			f[0] = x[0] + 10*x[1]
			f[1] = s5 * (x[2] - x[3])
			f[2] = (x[1] - 2*x[2]) * (x[1] - 2*x[2])
			f[3] = s10 * (x[0] - x[3]) * (x[0] - x[3])
		},
		Jacobian: func(x []float64, jac *mat.Dense) {
			jac.Zero()
			jac.Set(0, 0, 1)
			jac.Set(0, 1, 10)
			jac.Set(1, 2, s5)
			jac.Set(1, 3, -s5)
			d := x[1] - 2*x[2]
			jac.Set(2, 1, 2*d)
			jac.Set(2, 2, -4*d)
			e := x[0] - x[3]
			jac.Set(3, 0, 2*s10*e)
			jac.Set(3, 3, -2*s10*e)
		},
		Solution: []float64{0, 0, 0, 0},
	}
}

// FreudensteinRoth has a global minimizer (5, 4) and a local one with
// 𝐟ᵀ𝐟 ≈ 48.9842, which is where the solver lands from the standard start.
func FreudensteinRoth() Problem {
	return Problem{
		Name: "freudenstein-roth",
		N:    2, M: 2,
		X0: []float64{0.5, -2},
		Residual: func(x, f []float64) {
			f[0] = -13 + x[0] + ((5-x[1])*x[1]-2)*x[1]
			f[1] = -29 + x[0] + ((x[1]+1)*x[1]-14)*x[1]
		},
		Jacobian: func(x []float64, jac *mat.Dense) {
			jac.Set(0, 0, 1)
			jac.Set(0, 1, (10-3*x[1])*x[1]-2)
			jac.Set(1, 0, 1)
			jac.Set(1, 1, (3*x[1]+2)*x[1]-14)
		},
	}
}

// BiggsEXP6 fits a sum of three exponentials to 13 samples.
func BiggsEXP6() Problem {
	const m = 13
	z, y := make([]float64, m), make([]float64, m)
	for i := range z {
		z[i] = 0.1 * float64(i+1)
		y[i] = math.Exp(-z[i]) - 5*math.Exp(-10*z[i]) + 3*math.Exp(-4*z[i])
	}
	return Problem{
		Name: "biggs-exp6",
		N:    6, M: m,
		X0: []float64{1, 2, 1, 1, 1, 1},
		Residual: func(x, f []float64) {
			for i := range f {
				f[i] = x[2]*math.Exp(-x[0]*z[i]) - x[3]*math.Exp(-x[1]*z[i]) + x[5]*math.Exp(-x[4]*z[i]) - y[i]
			}
		},
		Jacobian: func(x []float64, jac *mat.Dense) {
			for i := 0; i < m; i++ {
				e0, e1, e4 := math.Exp(-x[0]*z[i]), math.Exp(-x[1]*z[i]), math.Exp(-x[4]*z[i])
				jac.Set(i, 0, -z[i]*x[2]*e0)
				jac.Set(i, 1, z[i]*x[3]*e1)
				jac.Set(i, 2, e0)
				jac.Set(i, 3, -e1)
				jac.Set(i, 4, -z[i]*x[5]*e4)
				jac.Set(i, 5, e4)
			}
		},
	}
}

// Named returns a built-in problem by name.
func Named(name string) (Problem, error) {
	build, ok := registry[name]
	if !ok {
		return Problem{}, fmt.Errorf("unknown problem %q", name)
	}
	return build(), nil
}

// Names lists the built-in problems in lexical order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var registry = map[string]func() Problem{
	"linear":            func() Problem { return Linear([]float64{1, -2, 3}) },
	"rosenbrock":        Rosenbrock,
	"powell":            Powell,
	"freudenstein-roth": FreudensteinRoth,
	"biggs-exp6":        BiggsEXP6,
	"rabi":              func() Problem { return DefaultRabi().Problem() },
}
