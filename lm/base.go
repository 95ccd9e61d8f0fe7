// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lm

import "fmt"

const (
	zero  = 0.0
	one   = 1.0
	two   = 2.0
	third = 1.0 / 3.0
)

const (
	// DefaultTau scales the largest diagonal entry of 𝐉ᵀ𝐉 into the initial damping.
	DefaultTau = 1e-3
	// DefaultMachPrecision bounds the step size relative to |𝐱| before the
	// linear system is considered (near-)singular.
	DefaultMachPrecision = 1e-12
	// DefaultHalfMaxNu is the largest damping growth factor allowed before doubling.
	DefaultHalfMaxNu = float64(1 << 62)
)

// Status is the terminal state of a run.
type Status int

const (
	// Running is the state before any terminal decision was made.
	Running Status = iota

	// ConvSumSquares the sum of squares 𝐟ᵀ𝐟 fell below tolerance.
	ConvSumSquares
	// ConvGradient the infinity norm of 𝐉ᵀ𝐟 fell below tolerance.
	ConvGradient
	// ConvRelativeX the step is small relative to |𝐱|.
	ConvRelativeX
	// ConvRelativeReduction both predicted and actual relative reductions are small.
	ConvRelativeReduction

	// OverIterLimit the outer iteration budget was exhausted.
	OverIterLimit

	// InfiniteNormInit the objective is not finite at the initial point.
	InfiniteNormInit
	// InfiniteNorm the objective became non-finite at a trial point.
	InfiniteNorm
	// NearSingular the step diverged relative to machine precision.
	NearSingular
	// NuOverflow damping growth overflowed.
	NuOverflow
	// HaltEvalPanic the residual or jacobian callback panicked.
	HaltEvalPanic
)

// Converged reports whether s is one of the convergence states.
func (s Status) Converged() bool {
	return s >= ConvSumSquares && s <= ConvRelativeReduction
}

// Fatal reports whether s is a numerical failure. The solution returned
// alongside a fatal status is the last accepted point, not an optimum.
func (s Status) Fatal() bool {
	return s >= InfiniteNormInit
}

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case ConvSumSquares:
		return "converged: sum of squares"
	case ConvGradient:
		return "converged: gradient"
	case ConvRelativeX:
		return "converged: relative x"
	case ConvRelativeReduction:
		return "converged: relative reduction"
	case OverIterLimit:
		return "iteration limit"
	case InfiniteNormInit:
		return "fatal: infinite initial norm"
	case InfiniteNorm:
		return "fatal: infinite norm"
	case NearSingular:
		return "fatal: near-singular system"
	case NuOverflow:
		return "fatal: nu overflow"
	case HaltEvalPanic:
		return "fatal: evaluation panic"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}
