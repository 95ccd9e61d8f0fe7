// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lm implements the damped Gauss-Newton (Levenberg-Marquardt)
// least-squares solver used to fit gate-set parameters to tomographic data.
//
// Given residuals 𝐟(𝐱) : ℝⁿ → ℝᵐ and their jacobian 𝐉(𝐱), each outer
// iteration forms the normal equations and each inner trial solves
//
//	(𝐉ᵀ𝐉 + μ𝐈) Δ𝐱 = -𝐉ᵀ𝐟
//
// accepting the step when both the predicted reduction
// 𝐋 = Δ𝐱ᵀ(μΔ𝐱 - 𝐉ᵀ𝐟) and the actual reduction of 𝐟ᵀ𝐟 are positive.
// On acceptance μ is scaled by 𝚖𝚊𝚡(1 - (2ρ-1)³, ⅓) where ρ is the gain ratio
// and ν resets to 2; on rejection μ is scaled by ν and ν doubles.
//
// Numerical outcomes (convergence, iteration limit, singular systems,
// non-finite objective, damping overflow) are reported by Result.Status
// and Result.Message and never as errors.
//
// # Reference:
//
//   - K. Madsen, H. B. Nielsen, O. Tingleff, Methods for Non-Linear Least Squares Problems, 2004.
//   - https://github.com/pyGSTio/pyGSTi
package lm
