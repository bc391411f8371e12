package histogram

import (
	"testing"

	"github.com/silab-bonn/fei4raw/internal/fehit"
)

func TestAddHitsTotAndRelBCID(t *testing.T) {
	h := NewHistogram(Settings{})
	h.AddHits([]fehit.Hit{
		{Column: 1, Row: 1, ToT: 3, RelativeBCID: 2},
		{Column: 1, Row: 1, ToT: 3, RelativeBCID: 2},
		{Column: 2, Row: 2, ToT: 7, RelativeBCID: 5},
	})
	tot := h.Tot()
	if tot[3] != 2 || tot[7] != 1 {
		t.Fatalf("tot histogram = %+v, want tot[3]=2 tot[7]=1", tot)
	}
	rel := h.RelBCID()
	if rel[2] != 2 || rel[5] != 1 {
		t.Fatalf("relBCID histogram = %+v, want [2]=2 [5]=1", rel)
	}
}

// A hit synthesized for an empty event (EventStatus NoHit) must not be
// counted in any distribution.
func TestAddHitsSkipsSyntheticEmptyEventHits(t *testing.T) {
	h := NewHistogram(Settings{})
	h.AddHits([]fehit.Hit{
		{Column: 1, Row: 1, ToT: 0, RelativeBCID: 0, EventStatus: fehit.NoHit},
	})
	tot := h.Tot()
	if tot[0] != 0 {
		t.Fatalf("synthetic empty-event hit must not be histogrammed, got tot[0]=%d", tot[0])
	}
}

// Occupancy buckets by scan parameter via the monotone event-index
// cursor: hits from events in the second readout land in bucket 1.
func TestOccupancyBucketsByScanParameter(t *testing.T) {
	h := NewHistogram(Settings{})
	h.SetScanPoints(ScanPoints{
		EventIndex: []int64{0, 5},
		Value:      []int32{10, 20},
	})
	h.EnableOccupancy()
	h.AddHits([]fehit.Hit{
		{EventNumber: 0, Column: 1, Row: 1, ToT: 3},
		{EventNumber: 5, Column: 1, Row: 1, ToT: 3},
		{EventNumber: 6, Column: 1, Row: 1, ToT: 3},
	})
	sums := h.OccupancySum(0)
	if sums[0] != 1 {
		t.Fatalf("bucket 0 column 1 sum = %d, want 1", sums[0])
	}
	sums = h.OccupancySum(1)
	if sums[0] != 2 {
		t.Fatalf("bucket 1 column 1 sum = %d, want 2", sums[0])
	}
}

// A perfect step function (0 below threshold, plateau above) recovers
// the method-of-moments threshold for a known injections count.
func TestEstimateThresholdStepFunction(t *testing.T) {
	counts := []uint32{0, 0, 0, 100, 100, 100}
	params := []float64{0, 1, 2, 3, 4, 5}
	threshold, noise := EstimateThreshold(counts, params, 100)
	if threshold < 1.5 || threshold > 2.5 {
		t.Fatalf("threshold = %v, want close to 2", threshold)
	}
	if noise < 0 {
		t.Fatalf("noise must be non-negative, got %v", noise)
	}
}

// A scan that never reaches full efficiency must not silently infer the
// plateau from its own last bin: the caller-supplied injections count
// changes the result.
func TestEstimateThresholdUsesSuppliedInjections(t *testing.T) {
	counts := []uint32{0, 0, 0, 40, 40, 40}
	params := []float64{0, 1, 2, 3, 4, 5}
	threshold, _ := EstimateThreshold(counts, params, 100)
	if threshold < 3.5 {
		t.Fatalf("threshold = %v, want higher than the full-efficiency case since only 40/100 injections registered", threshold)
	}
}

func TestEstimateThresholdEmptyInput(t *testing.T) {
	threshold, noise := EstimateThreshold(nil, nil, 100)
	if threshold != 0 || noise != 0 {
		t.Fatalf("got threshold=%v noise=%v, want 0,0 for empty input", threshold, noise)
	}
}

func TestEstimateThresholdZeroInjections(t *testing.T) {
	threshold, noise := EstimateThreshold([]uint32{0, 100}, []float64{0, 1}, 0)
	if threshold != 0 || noise != 0 {
		t.Fatalf("got threshold=%v noise=%v, want 0,0 when injections is unknown", threshold, noise)
	}
}
