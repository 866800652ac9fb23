// Package metricstore keeps per-SLO good/total event counts as time-bucketed rollups.
package metricstore

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidSample is returned when a sample is rejected on append.
var ErrInvalidSample = errors.New("invalid sample")

// Resolutions of the rollup buckets.
const (
	FineResolution   = time.Minute
	CoarseResolution = time.Hour
)

// Sample is a count of good (Numerator) out of total (Denominator) events at Timestamp.
// Samples returned by Query are rollups: Timestamp is the bucket start and
// Resolution the bucket width. A zero Resolution is a point in time.
type Sample struct {
	Timestamp   time.Time     `json:"timestamp"`
	Numerator   float64       `json:"numerator"`
	Denominator float64       `json:"denominator"`
	Resolution  time.Duration `json:"resolution,omitempty"`
}

// Overlap returns the share of the sample that falls in [start, end). Rollups
// are taken as evenly spread over their bucket; points count 0 or 1.
func (s Sample) Overlap(start, end time.Time) float64 {
	if s.Resolution <= 0 {
		if !s.Timestamp.Before(start) && s.Timestamp.Before(end) {
			return 1
		}
		return 0
	}

	from, to := s.Timestamp, s.Timestamp.Add(s.Resolution)
	if start.After(from) {
		from = start
	}
	if end.Before(to) {
		to = end
	}
	if !to.After(from) {
		return 0
	}
	return float64(to.Sub(from)) / float64(s.Resolution)
}

// CompactStats reports what a compaction pass did.
type CompactStats struct {
	Moved   int
	Dropped int
}

// Store is the time-series store the budget engine reads from.
type Store interface {
	// Append adds a sample to the series of sloID. It returns ErrInvalidSample
	// for samples that cannot be counted and leaves the series untouched.
	Append(ctx context.Context, sloID int64, s Sample) error
	// Query returns the rollups of sloID whose bucket overlaps [start, end),
	// ordered by time. A zero start or end leaves that side open.
	Query(ctx context.Context, sloID int64, start, end time.Time) ([]Sample, error)
	// SetRetention sets how long samples of sloID are kept.
	SetRetention(sloID int64, retention time.Duration)
	// Compact rolls aged fine buckets into coarse ones and drops expired data.
	Compact(ctx context.Context, now time.Time) (CompactStats, error)
}
