// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package profile

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curioloop/lmfit/lm"
	"github.com/curioloop/lmfit/problems"
)

var _ lm.Profiler = (*Profiler)(nil)

func TestAddTimeAccumulates(t *testing.T) {
	p := New("test")

	start := time.Now().Add(-2 * time.Millisecond)
	p.AddTime("a", start)
	p.AddTime("a", start)
	p.AddTime("b", time.Now())

	snap := p.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].Name)
	assert.Equal(t, 2, snap[0].Calls)
	assert.GreaterOrEqual(t, snap[0].Total, 4*time.Millisecond)
	assert.Equal(t, 1, snap[1].Calls)

	n, err := testutil.GatherAndCount(p.Registry(), "test_section_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMemCheck(t *testing.T) {
	p := New("mem")
	p.MemCheck("x")
	p.MemCheck("x")
	assert.Equal(t, 2.0, testutil.ToFloat64(p.checks.WithLabelValues("x")))
	assert.Greater(t, testutil.ToFloat64(p.heap.WithLabelValues("x")), 0.0)

	q := New("nomem", WithoutMemory())
	q.MemCheck("y")
	assert.Equal(t, 1.0, testutil.ToFloat64(q.checks.WithLabelValues("y")))
	n, err := testutil.GatherAndCount(q.Registry(), "nomem_heap_alloc_bytes")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSolverSections(t *testing.T) {
	pr := problems.Rosenbrock()
	p := New("lm", WithoutMemory())

	prob := lm.Problem{
		N: pr.N, M: pr.M,
		Residual: pr.Residual,
		Jacobian: pr.Jacobian,
		Stop:     lm.DefaultTermination(),
		Profiler: p,
	}
	_, ok, _, err := lm.Solve(&prob, pr.Start(), nil)
	require.NoError(t, err)
	require.True(t, ok)

	names := map[string]bool{}
	for _, s := range p.Snapshot() {
		names[s.Name] = true
	}
	assert.True(t, names["lm: dotprods"])
	assert.True(t, names["lm: linsolve"])
	assert.Greater(t, testutil.ToFloat64(p.checks.WithLabelValues("lm: begin outer iter")), 0.0)
}
