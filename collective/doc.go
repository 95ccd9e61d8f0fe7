// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package collective computes normal-equation products of a Jacobian
// whose rows are split across cooperating participants.
//
// Each participant owns a contiguous slice of the contraction dimension
// (see Partition), multiplies only that slice, and takes part in one
// sum-reduction per product so that all participants hold the same
// full result:
//
//	𝐉ᵀ𝐉 = Σᵣ 𝐉ᵣᵀ𝐉ᵣ ,  𝐉ᵀ𝐟 = Σᵣ 𝐉ᵣᵀ𝐟ᵣ
//
// Local is the one-participant communicator used when nothing is
// distributed; Group runs several participants as goroutines of one
// process.
package collective
