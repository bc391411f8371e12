package eventalign

import (
	"reflect"
	"testing"
)

func TestCountClustersPerEvent(t *testing.T) {
	events, counts := CountClustersPerEvent([]int64{1, 1, 1, 2, 4, 4})
	if !reflect.DeepEqual(events, []int64{1, 2, 4}) {
		t.Fatalf("events = %v", events)
	}
	if !reflect.DeepEqual(counts, []uint32{3, 1, 2}) {
		t.Fatalf("counts = %v", counts)
	}
}

func TestIn1DSortedMonotoneCursor(t *testing.T) {
	sorted := []int64{1, 3, 5, 7, 9}
	cursor := 0
	if !In1DSorted(sorted, 5, &cursor) {
		t.Fatalf("5 should be present")
	}
	if In1DSorted(sorted, 6, &cursor) {
		t.Fatalf("6 should be absent")
	}
	if !In1DSorted(sorted, 9, &cursor) {
		t.Fatalf("9 should be present")
	}
}

func TestIntersectEvents(t *testing.T) {
	got := IntersectEvents([]int64{1, 2, 3, 5}, []int64{2, 3, 4})
	if !reflect.DeepEqual(got, []int64{2, 3}) {
		t.Fatalf("got %v, want [2 3]", got)
	}
}

func TestMapClusterToHits(t *testing.T) {
	clusterEvents := []int64{1, 2, 4}
	hitEvents := []int64{1, 1, 2, 2, 2, 4}
	starts, ends := MapClusterToHits(clusterEvents, hitEvents)
	want := [][2]int{{0, 2}, {2, 5}, {5, 6}}
	for i, w := range want {
		if starts[i] != w[0] || ends[i] != w[1] {
			t.Fatalf("range[%d] = [%d,%d), want [%d,%d)", i, starts[i], ends[i], w[0], w[1])
		}
	}
}

func TestMaxEventsInBoth(t *testing.T) {
	a := []int64{1, 1, 2, 3, 3, 3}
	b := []int64{1, 2, 2, 4}
	events, counts := MaxEventsInBoth(a, b)
	want := map[int64]uint32{1: 2, 2: 2, 3: 3, 4: 1}
	if len(events) != len(want) {
		t.Fatalf("got %d distinct events, want %d", len(events), len(want))
	}
	for i, ev := range events {
		if counts[i] != want[ev] {
			t.Fatalf("event %d: count = %d, want %d", ev, counts[i], want[ev])
		}
	}
}

func TestHistogram3DOutOfRange(t *testing.T) {
	dst := make([]uint32, 2*3*4)
	if err := Histogram3D(dst, 1, 2, 3, 3, 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Histogram3D(dst, 1, 2, 4, 3, 4); err == nil {
		t.Fatalf("expected ErrOutOfRange for k=4 (stride 4)")
	}
}
