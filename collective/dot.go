// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package collective

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Range is the half-open interval [Lo, Hi) of a contraction dimension.
type Range struct {
	Lo, Hi int
}

// Len returns the number of indices covered by the range.
func (r Range) Len() int { return r.Hi - r.Lo }

// Partition splits a contraction dimension of length n into Size()
// contiguous, disjoint and balanced ranges, and returns the one owned
// by comm.Rank(). Lower ranks receive the extra element when n is not
// divisible by the group size, so some ranks may own an empty range.
func Partition(n int, comm Communicator) Range {
	if comm == nil {
		comm = Local
	}
	size, rank := comm.Size(), comm.Rank()
	base, extra := n/size, n%size
	lo := rank*base + min(rank, extra)
	hi := lo + base
	if rank < extra {
		hi++
	}
	return Range{Lo: lo, Hi: hi}
}

// TransposeGram computes dst = aᵀ·a where the contraction over the rows
// of a is split across comm: each participant multiplies only its own
// rows and the partial products are summed so every participant ends
// with the full n×n result. dst must be n×n or empty.
func TransposeGram(dst *mat.SymDense, a mat.Matrix, rows Range, comm Communicator) error {
	if comm == nil {
		comm = Local
	}
	m, n := a.Dims()
	if rows.Lo < 0 || rows.Hi > m || rows.Lo > rows.Hi {
		return fmt.Errorf("collective: row range [%d,%d) outside %d rows", rows.Lo, rows.Hi, m)
	}
	if dst.IsEmpty() {
		dst.ReuseAsSym(n)
	} else if dst.SymmetricDim() != n {
		return fmt.Errorf("collective: gram destination is %d×%d, expected %d×%d",
			dst.SymmetricDim(), dst.SymmetricDim(), n, n)
	}

	if rows.Len() > 0 {
		part := sliceRows(a, rows)
		dst.SymOuterK(1, part.T())
	} else {
		dst.Zero()
	}
	if comm.Size() == 1 {
		return nil
	}

	// Only the upper triangle is meaningful; mirror it into a packed
	// buffer so the reduction moves n(n+1)/2 values.
	packed := make([]float64, 0, n*(n+1)/2)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			packed = append(packed, dst.At(i, j))
		}
	}
	if err := comm.AllReduceSum(packed); err != nil {
		return err
	}
	k := 0
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			dst.SetSym(i, j, packed[k])
			k++
		}
	}
	return nil
}

// TransposeMulVec computes dst = aᵀ·v with the same row split and
// reduction as TransposeGram. dst must have length n or be empty.
func TransposeMulVec(dst *mat.VecDense, a mat.Matrix, v mat.Vector, rows Range, comm Communicator) error {
	if comm == nil {
		comm = Local
	}
	m, n := a.Dims()
	if v.Len() != m {
		return fmt.Errorf("collective: vector length %d does not match %d rows", v.Len(), m)
	}
	if rows.Lo < 0 || rows.Hi > m || rows.Lo > rows.Hi {
		return fmt.Errorf("collective: row range [%d,%d) outside %d rows", rows.Lo, rows.Hi, m)
	}
	if dst.IsEmpty() {
		dst.ReuseAsVec(n)
	} else if dst.Len() != n {
		return fmt.Errorf("collective: product destination has length %d, expected %d", dst.Len(), n)
	}

	if rows.Len() > 0 {
		part := sliceRows(a, rows)
		sub := mat.NewVecDense(rows.Len(), nil)
		for i := rows.Lo; i < rows.Hi; i++ {
			sub.SetVec(i-rows.Lo, v.AtVec(i))
		}
		dst.MulVec(part.T(), sub)
	} else {
		dst.Zero()
	}
	if comm.Size() == 1 {
		return nil
	}
	buf := make([]float64, n)
	for i := range buf {
		buf[i] = dst.AtVec(i)
	}
	if err := comm.AllReduceSum(buf); err != nil {
		return err
	}
	for i, s := range buf {
		dst.SetVec(i, s)
	}
	return nil
}

func sliceRows(a mat.Matrix, rows Range) mat.Matrix {
	_, n := a.Dims()
	if s, ok := a.(interface {
		Slice(i, k, j, l int) mat.Matrix
	}); ok {
		return s.Slice(rows.Lo, rows.Hi, 0, n)
	}
	return mat.DenseCopyOf(a).Slice(rows.Lo, rows.Hi, 0, n)
}
