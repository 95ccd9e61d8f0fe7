// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package collective

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrAborted is returned by a pending reduction once its group is cancelled.
	ErrAborted = errors.New("collective: reduction aborted")
	// ErrLength is returned when members contribute buffers of different length.
	ErrLength = errors.New("collective: reduction buffer length mismatch")
)

// Communicator is a participant handle of a collective reduction.
// Every member of the same group must call AllReduceSum the same
// number of times, with buffers of the same length, in the same order.
type Communicator interface {
	// Rank is the index of this participant in [0, Size).
	Rank() int
	// Size is the number of participants.
	Size() int
	// AllReduceSum replaces buf with the element-wise sum of the buffers
	// contributed by all participants. It blocks until every participant
	// has contributed.
	AllReduceSum(buf []float64) error
}

type local struct{}

func (local) Rank() int                    { return 0 }
func (local) Size() int                    { return 1 }
func (local) AllReduceSum([]float64) error { return nil }

// Local is the single-process communicator, its reduction is a no-op.
var Local Communicator = local{}

// Group coordinates size in-process participants, one per goroutine,
// that reduce in lockstep. Sums are accumulated in rank order so every
// participant receives a bit-identical result.
type Group struct {
	size int

	mu      sync.Mutex
	cond    *sync.Cond
	gen     uint64
	arrived int
	bufs    [][]float64
	sum     []float64
	err     error
}

// NewGroup creates a group of size participants. Cancelling ctx aborts
// every pending and future reduction of the group with ErrAborted.
func NewGroup(ctx context.Context, size int) (*Group, error) {
	if size <= 0 {
		return nil, fmt.Errorf("collective: group size must be positive, got %d", size)
	}
	g := &Group{size: size, bufs: make([][]float64, size)}
	g.cond = sync.NewCond(&g.mu)
	if ctx.Err() != nil {
		g.err = fmt.Errorf("%w: %v", ErrAborted, context.Cause(ctx))
		return g, nil
	}
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			g.abort(fmt.Errorf("%w: %v", ErrAborted, context.Cause(ctx)))
		}()
	}
	return g, nil
}

// Size returns the number of participants of the group.
func (g *Group) Size() int { return g.size }

// Member returns the communicator of participant rank.
func (g *Group) Member(rank int) Communicator {
	if rank < 0 || rank >= g.size {
		panic(fmt.Sprintf("collective: rank %d out of range [0,%d)", rank, g.size))
	}
	return &member{group: g, rank: rank}
}

func (g *Group) abort(err error) {
	g.mu.Lock()
	if g.err == nil {
		g.err = err
	}
	g.cond.Broadcast()
	g.mu.Unlock()
}

func (g *Group) reduce(rank int, buf []float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.err != nil {
		return g.err
	}
	if g.arrived > 0 {
		for _, b := range g.bufs {
			if b != nil && len(b) != len(buf) {
				g.err = fmt.Errorf("%w: rank %d has %d, expected %d", ErrLength, rank, len(buf), len(b))
				g.cond.Broadcast()
				return g.err
			}
		}
	}

	gen := g.gen
	g.bufs[rank] = buf
	g.arrived++

	if g.arrived == g.size {
		sum := make([]float64, len(buf))
		for _, b := range g.bufs {
			for i, v := range b {
				sum[i] += v
			}
		}
		g.sum = sum
		for i := range g.bufs {
			g.bufs[i] = nil
		}
		g.arrived = 0
		g.gen++
		g.cond.Broadcast()
	} else {
		for gen == g.gen && g.err == nil {
			g.cond.Wait()
		}
		if gen == g.gen {
			return g.err
		}
	}

	// g.sum cannot be replaced before this rank joins the next round.
	copy(buf, g.sum)
	return nil
}

type member struct {
	group *Group
	rank  int
}

func (m *member) Rank() int { return m.rank }
func (m *member) Size() int { return m.group.size }

func (m *member) AllReduceSum(buf []float64) error {
	return m.group.reduce(m.rank, buf)
}
