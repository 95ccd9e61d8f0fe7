// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package numdiff

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

var sqrtEps = math.Sqrt(math.Nextafter(1, 2) - 1)
var cubeEps = math.Pow(math.Nextafter(1, 2)-1, float64(1)/3)

type Method int

const (
	// Forward use the first order accuracy forward difference.
	Forward Method = iota
	// Central use the second order accuracy central difference.
	Central
)

func (m Method) String() string {
	switch m {
	case Forward:
		return "forward"
	case Central:
		return "central"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

// ParseMethod maps "forward" or "central" to a Method.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "forward", "":
		return Forward, nil
	case "central":
		return Central, nil
	}
	return 0, fmt.Errorf("unknown difference method %q", s)
}

// ApproxSpec estimates the m×n jacobian of a residual function by finite differences.
//
// # Reference:
//
//   - https://en.wikipedia.org/wiki/Finite_difference
//   - https://github.com/scipy/scipy/blob/main/scipy/optimize/_numdiff.py
//
// # License
//
//   - https://github.com/scipy/scipy/blob/main/LICENSE.txt
type ApproxSpec struct {
	N, M int
	// Function of which to estimate the derivatives.
	// The argument x passed to this function is an n-vector.
	// The result is store in an m-vector y.
	Object func(x, y []float64)
	// Finite difference method to use.
	Method Method
	// Relative step size used to compute absolute step size.
	// The default absolute step size is computed as h = RelStep * sign(x0) * max(1, abs(x0)) with RelStep being selected automatically.
	// Otherwise, absolute step size is computed as h = RelStep * sign(x0) * abs(x0) when RelStep is provided.
	RelStep float64
	// Absolute step size to use. The RelStep is used when AbsStep is not provide.
	// For Central method the sign of AbsStep is ignored.
	AbsStep float64
	// Number of columns evaluated concurrently. Values above 1 require
	// Object to be safe for concurrent use.
	Workers int
}

// Check validates the parameters against x0 and the destination jac.
func (as *ApproxSpec) Check(x0 []float64, jac *mat.Dense) (err error) {
	switch {
	case as.N <= 0 || as.M <= 0:
		err = errors.New("negative dimensions")
	case as.Method != Forward && as.Method != Central:
		err = errors.New("unknown method")
	case as.Object == nil:
		err = errors.New("object function is required")
	case as.Workers < 0:
		err = errors.New("negative workers")
	case as.N != len(x0):
		err = errors.New("invalid x0 dimensions")
	case jac == nil:
		err = errors.New("jacobian destination is required")
	default:
		if r, c := jac.Dims(); r != as.M || c != as.N {
			err = fmt.Errorf("invalid jacobian dimensions %d×%d, expected %d×%d", r, c, as.M, as.N)
		}
	}
	return
}

// Diff calculate approximation of derivatives by finite differences into jac.
// x0 is not modified.
func (as *ApproxSpec) Diff(x0 []float64, jac *mat.Dense) error {

	if err := as.Check(x0, jac); err != nil {
		return err
	}

	h := as.absoluteStep(x0)
	var f0 []float64
	if as.Method == Forward {
		f0 = make([]float64, as.M)
		as.Object(x0, f0)
	}

	column := func(i int, x, f1, f2 []float64) {
		if as.Method == Central {
			as.approxCentral(i, x, h[i], f1, f2, jac)
		} else {
			as.approxForward(i, x, h[i], f0, f1, jac)
		}
	}

	if as.Workers <= 1 {
		x := append([]float64(nil), x0...)
		f1, f2 := make([]float64, as.M), make([]float64, as.M)
		for i := range h {
			column(i, x, f1, f2)
		}
		return nil
	}

	var g errgroup.Group
	g.SetLimit(as.Workers)
	for i := range h {
		g.Go(func() error {
			x := append([]float64(nil), x0...)
			column(i, x, make([]float64, as.M), make([]float64, as.M))
			return nil
		})
	}
	return g.Wait()
}

// Jacobian returns a jacobian callback backed by Diff. Invalid input makes
// the callback panic, which the solver reports as an evaluation failure.
func (as *ApproxSpec) Jacobian() func(x []float64, jac *mat.Dense) {
	return func(x []float64, jac *mat.Dense) {
		if err := as.Diff(x, jac); err != nil {
			panic(fmt.Sprintf("numdiff: %v", err))
		}
	}
}

func (as *ApproxSpec) absoluteStep(x0 []float64) []float64 {
	var eps float64
	switch as.Method {
	case Forward:
		eps = sqrtEps
	case Central:
		eps = cubeEps
	default:
		panic("unknown method")
	}

	h := make([]float64, len(x0))
	abs, rel := as.AbsStep, as.RelStep
	for i, v := range x0 {
		s := math.Copysign(eps, v) * math.Max(1.0, math.Abs(v))
		if abs != 0 || rel != 0 {
			t := abs
			if t == 0 {
				t = math.Copysign(rel, v) * math.Abs(v)
			}
			if (v+t)-v != 0 {
				s = t
			}
		}
		if as.Method == Central {
			s = math.Abs(s)
		}
		h[i] = s
	}
	return h
}

func (as *ApproxSpec) approxForward(i int, x []float64, s float64, f0, fx []float64, jac *mat.Dense) {
	t := x[i]
	x[i] = t + s
	as.Object(x, fx)
	x[i] = t
	d := 1.0 / ((t + s) - t)
	for j, v := range f0 {
		jac.Set(j, i, (fx[j]-v)*d)
	}
}

func (as *ApproxSpec) approxCentral(i int, x []float64, s float64, f1, f2 []float64, jac *mat.Dense) {
	t := x[i]
	x[i] = t - s
	as.Object(x, f1)
	x[i] = t + s
	as.Object(x, f2)
	x[i] = t
	d := 1.0 / (2 * s)
	for j := range f1 {
		jac.Set(j, i, (f2[j]-f1[j])*d)
	}
}
