package hawkes

import (
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// Timeline normalizes raw event input for the estimation engine: a set of
// independent realizations, each holding one ascending timestamp sequence per
// node, plus an observation end time per realization.
type Timeline struct {
	realizations [][][]float64
	endTimes     []float64
	nNodes       int
	totalEvents  int
}

// NodeSummary describes one node's events across all realizations.
type NodeSummary struct {
	Node      int
	NumEvents int
	MeanGap   float64
	MedianGap float64
	P90Gap    float64
}

// NewTimeline builds a timeline from raw events, one slice of ascending
// timestamps per node per realization. The end time of each realization is
// inferred as its largest timestamp.
func NewTimeline(events [][][]float64) (*Timeline, error) {
	return NewTimelineWithEndTimes(events, nil)
}

// NewTimelineWithEndTimes builds a timeline with explicit observation end
// times, one per realization. An end time must not precede the realization's
// last event. Unsorted sequences are rejected, never sorted silently.
func NewTimelineWithEndTimes(events [][][]float64, endTimes []float64) (*Timeline, error) {
	if len(events) == 0 {
		return nil, errors.Wrap(ErrEmptyInput, "no realizations")
	}
	if endTimes != nil && len(endTimes) != len(events) {
		return nil, errors.Wrapf(ErrDimensionMismatch, "got %d end times for %d realizations", len(endTimes), len(events))
	}

	nNodes := len(events[0])
	if nNodes == 0 {
		return nil, errors.Wrap(ErrEmptyInput, "realization 0 has no nodes")
	}

	tl := &Timeline{
		realizations: events,
		endTimes:     make([]float64, len(events)),
		nNodes:       nNodes,
	}

	for r, realization := range events {
		if len(realization) != nNodes {
			return nil, errors.Wrapf(ErrDimensionMismatch, "realization %d has %d nodes, expected %d", r, len(realization), nNodes)
		}

		var last float64
		for node, series := range realization {
			for k, t := range series {
				if t < 0 {
					return nil, errors.Wrapf(ErrUnsortedEvents, "realization %d node %d: negative timestamp %v", r, node, t)
				}
				if k > 0 && t < series[k-1] {
					return nil, errors.Wrapf(ErrUnsortedEvents, "realization %d node %d: timestamp %v at position %d precedes %v", r, node, t, k, series[k-1])
				}
			}
			tl.totalEvents += len(series)
			if n := len(series); n > 0 && series[n-1] > last {
				last = series[n-1]
			}
		}

		tl.endTimes[r] = last
		if endTimes != nil {
			if endTimes[r] < last {
				return nil, errors.Wrapf(ErrInvalidConfiguration, "realization %d end time %v precedes last event %v", r, endTimes[r], last)
			}
			tl.endTimes[r] = endTimes[r]
		}
	}

	return tl, nil
}

func (tl *Timeline) NNodes() int { return tl.nNodes }

func (tl *Timeline) NRealizations() int { return len(tl.realizations) }

func (tl *Timeline) TotalEvents() int { return tl.totalEvents }

// EndTime returns the observation end time of one realization.
func (tl *Timeline) EndTime(r int) float64 { return tl.endTimes[r] }

// TotalHorizon returns the summed observation time across realizations, the
// baseline exposure of every node.
func (tl *Timeline) TotalHorizon() float64 {
	var total float64
	for _, t := range tl.endTimes {
		total += t
	}
	return total
}

// Events returns node's timestamp sequence within realization r. The slice is
// shared with the caller's input and must not be modified.
func (tl *Timeline) Events(r, node int) []float64 {
	return tl.realizations[r][node]
}

// Describe computes per-node inter-arrival statistics across all
// realizations. Nodes with fewer than two events report zero gaps.
func (tl *Timeline) Describe() []NodeSummary {
	summaries := make([]NodeSummary, tl.nNodes)
	for node := 0; node < tl.nNodes; node++ {
		var gaps []float64
		count := 0
		for r := range tl.realizations {
			series := tl.realizations[r][node]
			count += len(series)
			for k := 1; k < len(series); k++ {
				gaps = append(gaps, series[k]-series[k-1])
			}
		}

		summary := NodeSummary{Node: node, NumEvents: count}
		if len(gaps) > 0 {
			summary.MeanGap, _ = stats.Mean(gaps)
			summary.MedianGap, _ = stats.Median(gaps)
			summary.P90Gap, _ = stats.Percentile(gaps, 90)
		}
		summaries[node] = summary
	}
	return summaries
}
