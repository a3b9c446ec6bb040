// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classify turns raw GPS paths into the set of grid cells they claim.
package classify

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/AleutianAI/territory/services/territory/grid"
)

const (
	// DefaultMaxPoints is the default upper bound on points per path.
	DefaultMaxPoints = 5000

	// DefaultMinLoopSize is the loop size used when a request leaves it at 0.
	DefaultMinLoopSize = 3

	// DefaultMaxClaimedCells is the default upper bound on cells one
	// capture may claim.
	DefaultMaxClaimedCells = 100_000
)

// Config configures a Classifier.
type Config struct {
	// MaxPoints is the largest accepted path. Zero uses DefaultMaxPoints.
	MaxPoints int

	// MinLoopSize is the default loop size. Zero uses DefaultMinLoopSize.
	MinLoopSize int

	// MaxClaimedCells rejects captures claiming more cells. Zero uses
	// DefaultMaxClaimedCells.
	MaxClaimedCells int
}

// Classifier maps paths onto the grid and decides what they claim.
//
// Thread Safety: Safe for concurrent use. SetMaxPoints may be called while
// classifications are running.
type Classifier struct {
	index       *grid.Index
	maxPoints   atomic.Int64
	maxClaimed  int
	minLoopSize int
	logger      *slog.Logger
}

// New creates a Classifier over index.
//
// Inputs:
//
//	index - Grid index providing the cell resolution. Must not be nil.
//	cfg - Limits; zero fields take defaults.
//	logger - Logger for degenerate geometry. Nil uses slog.Default().
func New(index *grid.Index, cfg Config, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxPoints <= 0 {
		cfg.MaxPoints = DefaultMaxPoints
	}
	if cfg.MinLoopSize <= 0 {
		cfg.MinLoopSize = DefaultMinLoopSize
	}
	if cfg.MaxClaimedCells <= 0 {
		cfg.MaxClaimedCells = DefaultMaxClaimedCells
	}
	c := &Classifier{
		index:       index,
		maxClaimed:  cfg.MaxClaimedCells,
		minLoopSize: cfg.MinLoopSize,
		logger:      logger.With("component", "classifier"),
	}
	c.maxPoints.Store(int64(cfg.MaxPoints))
	return c
}

// SetMaxPoints replaces the point limit. Values <= 0 are ignored.
func (c *Classifier) SetMaxPoints(n int) {
	if n > 0 {
		c.maxPoints.Store(int64(n))
	}
}

// MaxPoints returns the current point limit.
func (c *Classifier) MaxPoints() int {
	return int(c.maxPoints.Load())
}

// Validate checks a submission without classifying it.
func (c *Classifier) Validate(in *Input) error {
	return validateInput(in, c.MaxPoints())
}

// Classify validates and classifies a path.
//
// Description:
//
//	Maps every point to a cell and collapses consecutive repeats. One
//	remaining cell is a single_hex. With AutoClose set, a sequence of at
//	least MinLoopSize+1 cells whose first and last cells are equal or
//	adjacent is a closed_loop: its claim is the boundary plus every cell
//	whose center lies inside the polygon of the raw coordinates. Anything
//	else is an open_path claiming the traced line between each pair of
//	consecutive cells. A claim larger than MaxClaimedCells is rejected; open
//	paths are checked segment by segment so an oversized trace is never
//	materialized.
//
// Inputs:
//
//	in - The submission.
//
// Outputs:
//
//	*Classification - The outcome.
//	error - ErrInvalidInput with a reason when validation fails or the claim
//	        is too large.
func (c *Classifier) Classify(in *Input) (*Classification, error) {
	if err := c.Validate(in); err != nil {
		return nil, err
	}

	seq := c.cellPath(in.Points)
	if len(seq) == 1 {
		return &Classification{
			PathType:      SingleHex,
			CellPath:      seq,
			Claimed:       []grid.Cell{seq[0]},
			BoundaryCount: 1,
		}, nil
	}

	minLoop := in.Options.MinLoopSize
	if minLoop <= 0 {
		minLoop = c.minLoopSize
	}
	if in.Options.AutoClose && len(seq) >= minLoop+1 && closes(seq) {
		return c.classifyLoop(in, seq)
	}
	return c.classifyOpen(in, seq)
}

func (c *Classifier) tooLarge(n int) error {
	return fmt.Errorf("%w: claim of at least %d cells exceeds %d", ErrInvalidInput, n, c.maxClaimed)
}

// cellPath maps points to cells, collapsing consecutive duplicates.
func (c *Classifier) cellPath(points []Point) []grid.Cell {
	seq := make([]grid.Cell, 0, len(points))
	for _, p := range points {
		cell := c.index.CellForPoint(p.Lat, p.Lng)
		if n := len(seq); n > 0 && seq[n-1] == cell {
			continue
		}
		seq = append(seq, cell)
	}
	return seq
}

// closes reports whether the ends of seq meet or touch.
func closes(seq []grid.Cell) bool {
	first, last := seq[0], seq[len(seq)-1]
	return first == last || grid.AreAdjacent(first, last)
}

func (c *Classifier) classifyLoop(in *Input, seq []grid.Cell) (*Classification, error) {
	boundary := distinct(seq)
	if len(boundary) > c.maxClaimed {
		return nil, c.tooLarge(len(boundary))
	}
	onBoundary := make(map[grid.Cell]struct{}, len(boundary))
	for _, cell := range boundary {
		onBoundary[cell] = struct{}{}
	}

	ring := make([]grid.LatLng, len(in.Points))
	for i, p := range in.Points {
		ring[i] = p.LatLng()
	}
	filled := c.index.Fill(ring)
	if len(filled) > c.maxClaimed {
		return nil, c.tooLarge(len(filled))
	}

	claimed := append(make([]grid.Cell, 0, len(boundary)+len(filled)), boundary...)
	for _, cell := range filled {
		if _, ok := onBoundary[cell]; !ok {
			claimed = append(claimed, cell)
		}
	}
	if len(claimed) > c.maxClaimed {
		return nil, c.tooLarge(len(claimed))
	}

	out := &Classification{
		PathType:      ClosedLoop,
		CellPath:      seq,
		Claimed:       claimed,
		BoundaryCount: len(boundary),
		InteriorCount: len(claimed) - len(boundary),
	}
	if len(filled) == 0 {
		out.Degenerate = DegenerateEmptyFill
		c.logger.Debug("loop fill produced no cells, claiming boundary only",
			"user", in.User,
			"boundary_cells", len(boundary))
	}
	return out, nil
}

func (c *Classifier) classifyOpen(in *Input, seq []grid.Cell) (*Classification, error) {
	seen := make(map[grid.Cell]struct{}, len(seq))
	claimed := make([]grid.Cell, 0, len(seq))
	add := func(cell grid.Cell) {
		if _, ok := seen[cell]; ok {
			return
		}
		seen[cell] = struct{}{}
		claimed = append(claimed, cell)
	}

	var untraced int
	for i := 0; i+1 < len(seq); i++ {
		if n := len(claimed) + segmentBound(seq[i], seq[i+1]); n > c.maxClaimed {
			return nil, c.tooLarge(n)
		}
		line, ok := grid.LineCells(seq[i], seq[i+1])
		if !ok {
			untraced++
		}
		for _, cell := range line {
			add(cell)
		}
	}
	if len(claimed) > c.maxClaimed {
		return nil, c.tooLarge(len(claimed))
	}

	out := &Classification{
		PathType:      OpenPath,
		CellPath:      seq,
		Claimed:       claimed,
		BoundaryCount: len(claimed),
	}
	if untraced > 0 {
		out.Degenerate = DegenerateLineTrace
		c.logger.Debug("line trace fell back to endpoints",
			"user", in.User,
			"untraced_segments", untraced)
	}
	return out, nil
}

// segmentBound is the most new cells LineCells(a, b) can add once a is
// already claimed.
func segmentBound(a, b grid.Cell) int {
	n := grid.Distance(a, b)
	if n < 0 || n > grid.MaxLineDistance {
		return 1
	}
	return n
}

// distinct returns cells in first-seen order without repeats.
func distinct(cells []grid.Cell) []grid.Cell {
	seen := make(map[grid.Cell]struct{}, len(cells))
	out := make([]grid.Cell, 0, len(cells))
	for _, cell := range cells {
		if _, ok := seen[cell]; ok {
			continue
		}
		seen[cell] = struct{}{}
		out = append(out, cell)
	}
	return out
}
