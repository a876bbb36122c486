package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrTooFewSamples is returned for curves that cannot express motion.
	ErrTooFewSamples = errors.New("pattern has too few samples")

	// ErrNoPatterns is returned when a category yields no usable pattern.
	ErrNoPatterns = errors.New("no usable patterns")
)

// Sample is one point of a motion curve.
type Sample struct {
	At  uint32 `json:"at"`  // offset from curve start (ms)
	Pos int    `json:"pos"` // 0..100
}

// Pattern is an immutable, pre-authored motion curve.
type Pattern struct {
	ID       string
	Category string
	Samples  []Sample

	StartPosition   int
	EndPosition     int
	TotalDurationMS uint32
}

// funscriptFile is the on-disk JSON body of a pattern file.
type funscriptFile struct {
	Actions []Sample `json:"actions"`
}

// ParsePattern decodes a funscript body into a Pattern.
// Samples are ordered by offset and positions are bounded to 0..100.
func ParsePattern(id, category string, data []byte) (*Pattern, error) {
	var f funscriptFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode funscript: %w", err)
	}
	if len(f.Actions) < minPatternSamples {
		return nil, fmt.Errorf("%w: %d < %d", ErrTooFewSamples, len(f.Actions), minPatternSamples)
	}

	samples := make([]Sample, len(f.Actions))
	copy(samples, f.Actions)
	sort.SliceStable(samples, func(i, j int) bool { return samples[i].At < samples[j].At })
	for i := range samples {
		samples[i].Pos = clampInt(samples[i].Pos, 0, 100)
	}

	first, last := samples[0], samples[len(samples)-1]
	return &Pattern{
		ID:              id,
		Category:        category,
		Samples:         samples,
		StartPosition:   first.Pos,
		EndPosition:     last.Pos,
		TotalDurationMS: last.At - first.At,
	}, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
