// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package collective

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

func randomDense(rng *rand.Rand, m, n int) *mat.Dense {
	data := make([]float64, m*n)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return mat.NewDense(m, n, data)
}

func TestPartitionCoversRows(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("ranges are contiguous, disjoint and balanced", prop.ForAll(
		func(n, size int) bool {
			g, err := NewGroup(context.Background(), size)
			if err != nil {
				return false
			}
			next, lo, hi := 0, n, 0
			for r := 0; r < size; r++ {
				rg := Partition(n, g.Member(r))
				if rg.Lo != next || rg.Hi < rg.Lo {
					return false
				}
				next = rg.Hi
				lo, hi = min(lo, rg.Len()), max(hi, rg.Len())
			}
			return next == n && hi-lo <= 1
		},
		gen.IntRange(0, 500),
		gen.IntRange(1, 17),
	))

	properties.TestingRun(t)
}

func TestPartitionLocal(t *testing.T) {
	require.Equal(t, Range{0, 7}, Partition(7, Local))
	require.Equal(t, Range{0, 7}, Partition(7, nil))
}

func TestTransposeGramLocal(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	a := randomDense(rng, 9, 4)

	var want mat.Dense
	want.Mul(a.T(), a)

	var got mat.SymDense
	require.NoError(t, TransposeGram(&got, a, Partition(9, Local), Local))
	require.True(t, mat.EqualApprox(&got, &want, 1e-12))

	var jtf mat.VecDense
	f := mat.NewVecDense(9, nil)
	for i := 0; i < 9; i++ {
		f.SetVec(i, rng.NormFloat64())
	}
	require.NoError(t, TransposeMulVec(&jtf, a, f, Partition(9, nil), nil))
	var wantV mat.VecDense
	wantV.MulVec(a.T(), f)
	require.True(t, mat.EqualApprox(&jtf, &wantV, 1e-12))
}

func relClose(a, b mat.Matrix, tol float64) bool {
	r, c := a.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			x, y := a.At(i, j), b.At(i, j)
			if math.Abs(x-y) > tol*math.Max(1, math.Max(math.Abs(x), math.Abs(y))) {
				return false
			}
		}
	}
	return true
}

func TestParallelMatchesSerial(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for _, tc := range []struct{ m, n, workers int }{
		{10, 3, 1}, {10, 3, 2}, {10, 3, 3}, {31, 6, 4}, {5, 5, 8}, {64, 12, 7},
	} {
		a := randomDense(rng, tc.m, tc.n)
		f := mat.NewVecDense(tc.m, nil)
		for i := 0; i < tc.m; i++ {
			f.SetVec(i, rng.NormFloat64())
		}

		var serialJTJ mat.SymDense
		var serialJTf mat.VecDense
		require.NoError(t, TransposeGram(&serialJTJ, a, Partition(tc.m, Local), Local))
		require.NoError(t, TransposeMulVec(&serialJTf, a, f, Partition(tc.m, Local), Local))

		g, err := NewGroup(context.Background(), tc.workers)
		require.NoError(t, err)

		jtj := make([]*mat.SymDense, tc.workers)
		jtf := make([]*mat.VecDense, tc.workers)
		var eg errgroup.Group
		for r := 0; r < tc.workers; r++ {
			eg.Go(func() error {
				comm := g.Member(r)
				rows := Partition(tc.m, comm)
				jtj[r] = new(mat.SymDense)
				jtf[r] = new(mat.VecDense)
				if err := TransposeGram(jtj[r], a, rows, comm); err != nil {
					return err
				}
				return TransposeMulVec(jtf[r], a, f, rows, comm)
			})
		}
		require.NoError(t, eg.Wait())

		for r := 0; r < tc.workers; r++ {
			require.True(t, relClose(jtj[r], &serialJTJ, 1e-10), "JᵀJ of rank %d (m=%d workers=%d)", r, tc.m, tc.workers)
			require.True(t, relClose(jtf[r], &serialJTf, 1e-10), "Jᵀf of rank %d (m=%d workers=%d)", r, tc.m, tc.workers)
			require.True(t, mat.Equal(jtj[r], jtj[0]), "ranks must agree bit for bit")
			require.True(t, mat.Equal(jtf[r], jtf[0]), "ranks must agree bit for bit")
		}
	}
}

func TestGroupAbort(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g, err := NewGroup(ctx, 2)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- g.Member(0).AllReduceSum([]float64{1, 2})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.True(t, errors.Is(err, ErrAborted))
	case <-time.After(5 * time.Second):
		t.Fatal("pending reduction was not aborted")
	}
	require.ErrorIs(t, g.Member(1).AllReduceSum([]float64{1, 2}), ErrAborted)
}

func TestGroupLengthMismatch(t *testing.T) {
	g, err := NewGroup(context.Background(), 2)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- g.Member(0).AllReduceSum([]float64{1, 2, 3})
	}()
	time.Sleep(10 * time.Millisecond)

	require.ErrorIs(t, g.Member(1).AllReduceSum([]float64{1}), ErrLength)
	require.ErrorIs(t, <-done, ErrLength)
}

func TestGroupRepeatedRounds(t *testing.T) {
	const size, rounds = 4, 50
	g, err := NewGroup(context.Background(), size)
	require.NoError(t, err)

	results := make([][]float64, size)
	var eg errgroup.Group
	for r := 0; r < size; r++ {
		eg.Go(func() error {
			comm := g.Member(r)
			acc := make([]float64, rounds)
			for k := 0; k < rounds; k++ {
				buf := []float64{float64(comm.Rank() + k)}
				if err := comm.AllReduceSum(buf); err != nil {
					return err
				}
				acc[k] = buf[0]
			}
			results[r] = acc
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	for k := 0; k < rounds; k++ {
		want := float64(0+1+2+3) + float64(size*k)
		for r := 0; r < size; r++ {
			require.Equal(t, want, results[r][k])
		}
	}
}

func TestNewGroupInvalid(t *testing.T) {
	_, err := NewGroup(context.Background(), 0)
	require.Error(t, err)
}
