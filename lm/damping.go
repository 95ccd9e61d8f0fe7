// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lm

import (
	"errors"

	"gonum.org/v1/gonum/mat"
)

// damped writes 𝐀 + μ𝐈 into dst, leaving a untouched.
func damped(dst, a *mat.SymDense, mu float64) {
	dst.CopySym(a)
	n := a.SymmetricDim()
	for i := 0; i < n; i++ {
		dst.SetSym(i, i, a.At(i, i)+mu)
	}
}

// solveDamped solves (𝐉ᵀ𝐉 + μ𝐈)Δ𝐱 = -𝐉ᵀ𝐟 by Cholesky factorization.
// It reports false when the damped system is not positive definite.
// An ill-conditioned but factorizable system still yields a step.
func (c *lmCtx) solveDamped(mu float64) bool {
	damped(c.damped, c.jtj, mu)
	if !c.chol.Factorize(c.damped) {
		return false
	}
	err := c.chol.SolveVecTo(c.dx, c.rhs)
	var cond mat.Condition
	if err != nil && !errors.As(err, &cond) {
		return false
	}
	return true
}
