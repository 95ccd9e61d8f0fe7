// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lm

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/lmfit/collective"
)

// ErrDimension is returned when an argument does not match the problem dimensions.
var ErrDimension = errors.New("lm: dimension mismatch")

// LogLevel controls how much of the iteration is logged.
type LogLevel int

const (
	// LogNoop no output is generated.
	LogNoop LogLevel = iota
	// LogOuter one line per outer iteration.
	LogOuter
	// LogInner also every damping trial of the inner loop.
	LogInner
)

// Logger handles logging output for the optimizer.
// Only rank 0 of a distributed run writes.
type Logger struct {
	Level LogLevel
	Log   zerolog.Logger
}

func (l *Logger) enable(level LogLevel) bool {
	return l.Level >= level
}

// Profiler receives timing and memory checkpoints. It never influences the run.
type Profiler interface {
	// AddTime records the time elapsed since start under name.
	AddTime(name string, start time.Time)
	// MemCheck records the current memory usage under name.
	MemCheck(name string)
}

// ResidualFunc evaluates the residual vector 𝐟(𝐱) : ℝⁿ → ℝᵐ into f.
type ResidualFunc func(x, f []float64)

// JacobianFunc evaluates the m×n jacobian ∂𝐟/∂𝐱 into jac.
// Rows follow the order of the residual vector.
type JacobianFunc func(x []float64, jac *mat.Dense)

// Termination specifies the stopping criteria for the optimization algorithm.
type Termination struct {
	// The iteration stops when 𝐟ᵀ𝐟 < 𝚏𝚗𝚘𝚛𝚖𝟸𝚝𝚘𝚕
	FNorm2Tolerance float64
	// The iteration stops when ‖𝐉ᵀ𝐟‖∞ < 𝚓𝚊𝚌𝚝𝚘𝚕
	JacNormTolerance float64
	// The iteration stops when both predicted and actual reductions of 𝐟ᵀ𝐟,
	// relative to 𝐟ᵀ𝐟, are below 𝚛𝚎𝚕𝚏𝚝𝚘𝚕
	RelFTolerance float64
	// The iteration stops when |Δ𝐱| < 𝚛𝚎𝚕𝚡𝚝𝚘𝚕 × |𝐱|
	RelXTolerance float64
	// The iteration stops when the number of outer iterations reaches limit.
	// Zero is a legal budget that performs no iteration.
	MaxIterations int
}

// DefaultTermination returns the stopping criteria used by GST fits.
func DefaultTermination() Termination {
	return Termination{
		FNorm2Tolerance:  1e-6,
		JacNormTolerance: 1e-6,
		RelFTolerance:    1e-6,
		RelXTolerance:    1e-6,
		MaxIterations:    100,
	}
}

// Damping holds the constants of the damping strategy. Zero fields select defaults.
type Damping struct {
	// Initial damping is Tau × max diag(𝐉ᵀ𝐉).
	Tau float64
	// Steps with |Δ𝐱|² > (|𝐱|² + 𝚛𝚎𝚕𝚡𝚝𝚘𝚕) / MachPrecision² are treated as singular.
	MachPrecision float64
	// The run stops once the damping growth factor exceeds HalfMaxNu.
	HalfMaxNu float64
}

// Step describes one damping trial of the inner loop.
type Step struct {
	Iter, Trial int     // outer iteration (1-based) and trial within it
	Mu, Nu      float64 // damping applied and growth factor at the trial
	NormF       float64 // 𝐟ᵀ𝐟 at the current point
	NormNewF    float64 // 𝐟ᵀ𝐟 at the trial point, NaN if not evaluated
	NormDX      float64 // Δ𝐱ᵀΔ𝐱, NaN if the linear solve failed
	DL, DF      float64 // predicted and actual reductions
	Solved      bool    // the damped normal equations were solved
	Accepted    bool    // the trial point was committed
}

// Problem specifies the least-squares problem min ½‖𝐟(𝐱)‖².
type Problem struct {
	N, M     int          // Parameter and residual dimensions
	Residual ResidualFunc // Residual vector 𝐟(𝐱)
	Jacobian JacobianFunc // Jacobian 𝐉(𝐱)
	Stop     Termination  // Stop condition
	Damping  Damping      // Optional damping constants
	// Optional participant of a distributed 𝐉ᵀ𝐉 reduction.
	// Every participant must run Fit on the same problem in lockstep.
	Comm     collective.Communicator
	Profiler Profiler   // Optional profiling sink
	Trace    func(Step) // Optional hook called after every accepted or rejected trial
}

// New creates a new Levenberg-Marquardt optimizer for given problem.
func (p *Problem) New(logger *Logger) (optimizer *Optimizer, err error) {

	if logger == nil {
		logger = &Logger{Level: LogNoop, Log: zerolog.Nop()}
	}

	n, m, stop, damp := p.N, p.M, p.Stop, p.Damping
	comm := p.Comm
	if comm == nil {
		comm = collective.Local
	}

	if damp.Tau == zero {
		damp.Tau = DefaultTau
	}
	if damp.MachPrecision == zero {
		damp.MachPrecision = DefaultMachPrecision
	}
	if damp.HalfMaxNu == zero {
		damp.HalfMaxNu = DefaultHalfMaxNu
	}

	switch {
	case n <= 0:
		err = errors.New("problem dimension must greater than 0")
	case m <= 0:
		err = errors.New("residual dimension must greater than 0")
	case p.Residual == nil:
		err = errors.New("residual function is required")
	case p.Jacobian == nil:
		err = errors.New("jacobian function is required")
	case stop.MaxIterations < 0:
		err = errors.New("max iteration must not less than 0")
	case !(stop.FNorm2Tolerance >= zero):
		err = errors.New("sum of squares tolerance must not less than 0")
	case !(stop.JacNormTolerance >= zero):
		err = errors.New("jacobian norm tolerance must not less than 0")
	case !(stop.RelFTolerance >= zero):
		err = errors.New("relative reduction tolerance must not less than 0")
	case !(stop.RelXTolerance >= zero):
		err = errors.New("relative step tolerance must not less than 0")
	case !(damp.Tau > zero) || math.IsInf(damp.Tau, 0):
		err = errors.New("damping tau must greater than 0")
	case !(damp.MachPrecision > zero) || math.IsInf(damp.MachPrecision, 0):
		err = errors.New("machine precision must greater than 0")
	case !(damp.HalfMaxNu >= two) || math.IsInf(damp.HalfMaxNu, 0):
		err = errors.New("nu limit must not less than 2")
	case comm.Size() <= 0 || comm.Rank() < 0 || comm.Rank() >= comm.Size():
		err = fmt.Errorf("invalid communicator rank %d of %d", comm.Rank(), comm.Size())
	}

	if err != nil {
		return
	}

	optimizer = &Optimizer{
		lmSpec{
			n: n, m: m,
			stop:     stop,
			damping:  damp,
			residual: p.Residual,
			jacobian: p.Jacobian,
			comm:     comm,
			profiler: p.Profiler,
			trace:    p.Trace,
			logger:   *logger,
		},
	}
	return
}

// Optimizer implemented using the Levenberg-Marquardt algorithm.
type Optimizer struct {
	lmSpec
}

type lmSpec struct {
	n, m     int
	stop     Termination
	damping  Damping
	residual ResidualFunc
	jacobian JacobianFunc
	comm     collective.Communicator
	profiler Profiler
	trace    func(Step)
	logger   Logger
}

// Workspace contains the state and context of the optimization process.
// Given problem dimension n and residual dimension m,
// total work space is approximately float64[m×n + 2×n² + 2×m + 5×n].
type Workspace struct {
	n, m int
	lmCtx
}

// Result contains the final result of the optimization process.
type Result struct {
	OK      bool      // Whether the optimization was converged.
	X, F    []float64 // Final solution and residual vector.
	FNorm2  float64   // Final sum of squares 𝐟ᵀ𝐟.
	Message string    // Human readable reason of termination.
	Summary           // Optimization summary.
}

// Summary contains a summary of the optimization process.
type Summary struct {
	Status    Status  // Final status after optimization.
	NumIter   int     // Number of outer iterations that evaluated the jacobian.
	NumEval   int     // Number of residual evaluations.
	NumReject int     // Number of rejected damping trials.
	Mu, Nu    float64 // Final damping and growth factor.
}

// Init allocate the workspace for the optimizer.
// To avoid race conditions, separate workspaces need to be created for each goroutine.
// But multiple workspaces could share one optimizer.
func (o *Optimizer) Init() *Workspace {
	w := new(Workspace)
	w.n, w.m = o.n, o.m
	w.init(w.n, w.m)
	return w
}

// Fit runs the optimization process using the initial guess x and workspace w.
// Numerical failures are reported through Result, the returned error is
// reserved for dimension mismatches and reduction failures.
func (o *Optimizer) Fit(x []float64, w *Workspace) (*Result, error) {

	if len(x) != o.n {
		return nil, fmt.Errorf("%w: initial x has length %d, expected %d", ErrDimension, len(x), o.n)
	}

	if w == nil || w.n != o.n || w.m != o.m {
		return nil, fmt.Errorf("%w: workspace does not match problem", ErrDimension)
	}

	loc := lmLoc{
		x:    slices.Clone(x),
		f:    make([]float64, o.m),
		newX: make([]float64, o.n),
		newF: make([]float64, o.m),
	}

	driver := lmDriver{
		optimizer: o,
		workspace: w,
		location:  &loc,
	}

	res, err := driver.mainLoop()
	if err != nil {
		return nil, err
	}

	return &Result{
		OK: res.Converged(),
		X:  loc.x, F: loc.f,
		FNorm2:  loc.normF,
		Message: w.msg,
		Summary: Summary{
			Status:    res,
			NumIter:   w.iter,
			NumEval:   w.numEval,
			NumReject: w.numReject,
			Mu:        w.mu,
			Nu:        w.nu,
		},
	}, nil
}

// Solve is a one-shot helper that fits p from x0 and returns the solution,
// the convergence flag and the termination message.
func Solve(p *Problem, x0 []float64, logger *Logger) (x []float64, converged bool, msg string, err error) {
	o, err := p.New(logger)
	if err != nil {
		return nil, false, "", err
	}
	r, err := o.Fit(x0, o.Init())
	if err != nil {
		return nil, false, "", err
	}
	return r.X, r.OK, r.Message, nil
}
