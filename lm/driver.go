// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lm

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/lmfit/collective"
)

// lmLoc is the current point of the iteration and the trial point.
// f and normF always belong to x.
type lmLoc struct {
	x, f       []float64
	newX, newF []float64
	normF      float64
}

type lmCtx struct {
	// damping and damping growth factor, reset at the start of every run.
	mu, nu float64
	// outer iteration counter.
	iter int
	// residual evaluations and rejected trials.
	numEval, numReject int
	// termination message.
	msg string

	// partition of the residual rows, computed on the first jacobian.
	rows      collective.Range
	rowsReady bool

	jac    *mat.Dense    // m × n
	jtj    *mat.SymDense // undamped 𝐉ᵀ𝐉, read-only within an outer iteration
	damped *mat.SymDense // 𝐉ᵀ𝐉 + μ𝐈 scratch
	jtf    *mat.VecDense // 𝐉ᵀ𝐟
	rhs    *mat.VecDense // -𝐉ᵀ𝐟
	dx     *mat.VecDense // step
	chol   mat.Cholesky
}

func (c *lmCtx) init(n, m int) {
	c.jac = mat.NewDense(m, n, nil)
	c.jtj = mat.NewSymDense(n, nil)
	c.damped = mat.NewSymDense(n, nil)
	c.jtf = mat.NewVecDense(n, nil)
	c.rhs = mat.NewVecDense(n, nil)
	c.dx = mat.NewVecDense(n, nil)
}

func (c *lmCtx) reset() {
	c.mu, c.nu = zero, two
	c.iter, c.numEval, c.numReject = 0, 0, 0
	c.msg = ""
	c.rowsReady = false
}

// lmDriver is the main driver for iterations in an optimization process,
// responsible for managing the flow of the optimization.
type lmDriver struct {
	optimizer *Optimizer
	workspace *Workspace
	location  *lmLoc
}

func (d *lmDriver) log(level LogLevel) *zerolog.Event {
	l := &d.optimizer.logger
	if !l.enable(level) || d.optimizer.comm.Rank() != 0 {
		return nil
	}
	if level == LogOuter {
		return l.Log.Info()
	}
	return l.Log.Debug()
}

func (d *lmDriver) memCheck(name string) {
	if p := d.optimizer.profiler; p != nil {
		p.MemCheck(name)
	}
}

func (d *lmDriver) addTime(name string, start time.Time) {
	if p := d.optimizer.profiler; p != nil {
		p.AddTime(name, start)
	}
}

// evaluate runs a user callback and converts a panic into HaltEvalPanic.
func (d *lmDriver) evaluate(eval func()) (task Status) {
	defer func() {
		if r := recover(); r != nil {
			d.workspace.msg = fmt.Sprintf("Evaluation of objective or jacobian panicked: %v", r)
			task = HaltEvalPanic
		}
	}()
	eval()
	return Running
}

func (d *lmDriver) evalResidual(x, f []float64) Status {
	d.workspace.numEval++
	return d.evaluate(func() { d.optimizer.residual(x, f) })
}

func (d *lmDriver) evalJacobian(x []float64) Status {
	return d.evaluate(func() { d.optimizer.jacobian(x, d.workspace.jac) })
}

// finish records the termination message of a terminal state.
func (d *lmDriver) finish(task Status, format string, a ...any) Status {
	d.workspace.msg = fmt.Sprintf(format, a...)
	if e := d.log(LogOuter); e != nil {
		e.Stringer("status", task).Int("iter", d.workspace.iter).
			Float64("norm_f", d.location.normF).Msg(d.workspace.msg)
	}
	return task
}

// normalEquations forms 𝐉ᵀ𝐉 and 𝐉ᵀ𝐟 at the current point.
func (d *lmDriver) normalEquations() error {
	o, w, loc := d.optimizer, d.workspace, d.location

	tm := time.Now()
	if !w.rowsReady {
		w.rows = collective.Partition(o.m, o.comm)
		w.rowsReady = true
	}
	if err := collective.TransposeGram(w.jtj, w.jac, w.rows, o.comm); err != nil {
		return fmt.Errorf("lm: reduce JᵀJ: %w", err)
	}
	if err := collective.TransposeMulVec(w.jtf, w.jac, mat.NewVecDense(o.m, loc.f), w.rows, o.comm); err != nil {
		return fmt.Errorf("lm: reduce Jᵀf: %w", err)
	}
	d.addTime("lm: dotprods", tm)
	return nil
}

// initialDamping returns 𝚝𝚊𝚞 × max diag(𝐉ᵀ𝐉), falling back to 𝚝𝚊𝚞 when
// the jacobian has no positive diagonal so that μ stays positive.
func (d *lmDriver) initialDamping() float64 {
	w, tau := d.workspace, d.optimizer.damping.Tau
	maxDiag := math.Inf(-1)
	for i := 0; i < w.n; i++ {
		maxDiag = math.Max(maxDiag, w.jtj.At(i, i))
	}
	mu := tau * maxDiag
	if !(mu > zero) || math.IsInf(mu, 1) {
		mu = tau
	}
	return mu
}

// mainLoop is the outer iteration: it checks convergence at the current
// point, forms the normal equations and hands over to the damping loop.
func (d *lmDriver) mainLoop() (task Status, err error) {

	o, w, loc := d.optimizer, d.workspace, d.location
	stop := &o.stop
	w.reset()

	if task = d.evalResidual(loc.x, loc.f); task != Running {
		return
	}
	loc.normF = floats.Dot(loc.f, loc.f)

	if !isFinite(loc.normF) {
		return d.finish(InfiniteNormInit, "Infinite norm of objective function at initial point!"), nil
	}

	for w.iter < stop.MaxIterations {

		if loc.normF < stop.FNorm2Tolerance {
			return d.finish(ConvSumSquares, "Sum of squares is at most %g", stop.FNorm2Tolerance), nil
		}

		w.iter++
		if e := d.log(LogOuter); e != nil {
			e.Int("iter", w.iter-1).Float64("norm_f", loc.normF).Float64("mu", w.mu).Msg("outer iteration")
		}

		d.memCheck("lm: begin outer iter")
		if task = d.evalJacobian(loc.x); task != Running {
			return
		}
		d.memCheck("lm: after jacobian")

		if err = d.normalEquations(); err != nil {
			return
		}

		normJTf := floats.Norm(w.jtf.RawVector().Data, math.Inf(1))
		normX := floats.Dot(loc.x, loc.x)

		if normJTf < stop.JacNormTolerance {
			return d.finish(ConvGradient, "norm(jacobian) is at most %g", stop.JacNormTolerance), nil
		}

		if w.iter == 1 {
			w.mu = d.initialDamping()
		}

		if task = d.innerLoop(normX); task != Running {
			return
		}
	}

	return d.finish(OverIterLimit, "Maximum iterations (%d) exceeded", stop.MaxIterations), nil
}

// innerLoop adapts the damping until a step is accepted or the run terminates.
// It returns Running after an accepted step.
func (d *lmDriver) innerLoop(normX float64) Status {

	o, w, loc := d.optimizer, d.workspace, d.location
	stop, damp := &o.stop, &o.damping
	relX, relF := stop.RelXTolerance, stop.RelFTolerance

	w.rhs.ScaleVec(-one, w.jtf)

	for trial := 0; ; trial++ {

		step := Step{
			Iter: w.iter, Trial: trial,
			Mu: w.mu, Nu: w.nu,
			NormF:    loc.normF,
			NormNewF: math.NaN(), NormDX: math.NaN(),
			DL: math.NaN(), DF: math.NaN(),
		}

		d.memCheck("lm: begin inner iter")
		tm := time.Now()
		step.Solved = w.solveDamped(w.mu)
		d.addTime("lm: linsolve", tm)

		if step.Solved {
			dx := w.dx.RawVector().Data
			normDX := floats.Dot(dx, dx)
			step.NormDX = normDX

			if e := d.log(LogInner); e != nil {
				e.Int("trial", trial).Float64("mu", w.mu).Float64("norm_dx", normDX).Msg("inner iteration")
			}

			if normDX < relX*relX*normX {
				return d.finish(ConvRelativeX, "Relative change in |x| is at most %g", relX)
			}

			if normDX > (normX+relX)/(damp.MachPrecision*damp.MachPrecision) {
				return d.finish(NearSingular, "(near-)singular linear system")
			}

			floats.AddTo(loc.newX, loc.x, dx)
			if task := d.evalResidual(loc.newX, loc.newF); task != Running {
				return task
			}
			d.memCheck("lm: after obj_fn")

			normNewF := floats.Dot(loc.newF, loc.newF)
			step.NormNewF = normNewF
			if !isFinite(normNewF) {
				return d.finish(InfiniteNorm, "Infinite norm of objective function!")
			}

			// expected decrease of 𝐟ᵀ𝐟 from the linear model and actual decrease
			dL := w.mu*normDX - floats.Dot(dx, w.jtf.RawVector().Data)
			dF := loc.normF - normNewF
			step.DL, step.DF = dL, dF

			if e := d.log(LogInner); e != nil {
				e.Float64("norm_new_f", normNewF).Float64("dL", dL).Float64("dF", dF).
					Float64("rel_dL", ratio(dL, loc.normF)).Float64("rel_dF", ratio(dF, loc.normF)).
					Msg("trial point")
			}

			if ratio(dL, loc.normF) < relF && ratio(dF, loc.normF) < relF && ratio(dF, dL) < two {
				return d.finish(ConvRelativeReduction,
					"Both actual and predicted relative reductions in the sum of squares are at most %g", relF)
			}

			if dL > zero && dF > zero {
				gain := dF / dL
				t := math.Max(one-math.Pow(two*gain-one, 3), third)
				w.mu *= t
				w.nu = two
				loc.x, loc.newX = loc.newX, loc.x
				loc.f, loc.newF = loc.newF, loc.f
				loc.normF = normNewF

				if e := d.log(LogInner); e != nil {
					e.Float64("gain", gain).Float64("factor", t).Float64("mu", w.mu).Msg("accepted")
				}
				step.Accepted = true
				d.emit(step)
				return Running
			}
		} else if e := d.log(LogInner); e != nil {
			e.Int("trial", trial).Float64("mu", w.mu).Msg("linear solve failure")
		}

		// either the linear solve failed or the error did not reduce:
		// increase the damping, then the damping growth
		d.emit(step)
		w.numReject++
		w.mu *= w.nu
		if w.nu > damp.HalfMaxNu {
			return d.finish(NuOverflow, "Stopping after nu overflow!")
		}
		w.nu *= two

		if e := d.log(LogInner); e != nil {
			e.Float64("mu", w.mu).Float64("nu", w.nu).Msg("rejected")
		}
	}
}

func (d *lmDriver) emit(step Step) {
	if t := d.optimizer.trace; t != nil {
		t(step)
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ratio returns a/b, or +∞ when b is zero so that no relative test passes.
func ratio(a, b float64) float64 {
	if b == zero {
		return math.Inf(1)
	}
	return a / b
}
