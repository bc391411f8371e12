// Package eventalign provides the small set of array algorithms used by
// cross-table analysis code for aligning two event-numbered tables
// against each other: run-length counting,
// sorted-merge intersection, and merged-multiset extremum queries.
package eventalign

import "fmt"

// CountClustersPerEvent run-length-encodes a non-decreasing slice of
// event numbers (e.g. one row per cluster) into (event number, count)
// pairs, preserving input order.
func CountClustersPerEvent(eventNumbers []int64) (events []int64, counts []uint32) {
	i := 0
	for i < len(eventNumbers) {
		j := i + 1
		for j < len(eventNumbers) && eventNumbers[j] == eventNumbers[i] {
			j++
		}
		events = append(events, eventNumbers[i])
		counts = append(counts, uint32(j-i))
		i = j
	}
	return events, counts
}

// In1DSorted reports whether value appears in the non-decreasing slice
// sorted, via a monotone linear scan seeded at cursor (the caller
// threads cursor across successive calls with increasing values, so
// the whole scan is amortized O(n) rather than O(n log n)).
func In1DSorted(sorted []int64, value int64, cursor *int) bool {
	for *cursor < len(sorted) && sorted[*cursor] < value {
		*cursor++
	}
	return *cursor < len(sorted) && sorted[*cursor] == value
}

// IntersectEvents returns the event numbers present in both non-decreasing
// slices a and b, via a sorted merge (no hashing, no sorting).
func IntersectEvents(a, b []int64) []int64 {
	var out []int64
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			out = append(out, a[i])
			for i < len(a) && a[i] == out[len(out)-1] {
				i++
			}
			for j < len(b) && b[j] == out[len(out)-1] {
				j++
			}
		}
	}
	return out
}

// MapClusterToHits returns, for each cluster's event number in
// clusterEvents, the index range [start, end) into hitEvents (both
// non-decreasing) belonging to that same event.
func MapClusterToHits(clusterEvents, hitEvents []int64) (starts, ends []int) {
	starts = make([]int, len(clusterEvents))
	ends = make([]int, len(clusterEvents))
	cursor := 0
	for i, ev := range clusterEvents {
		if i > 0 && ev == clusterEvents[i-1] {
			starts[i], ends[i] = starts[i-1], ends[i-1]
			continue
		}
		for cursor < len(hitEvents) && hitEvents[cursor] < ev {
			cursor++
		}
		start := cursor
		for cursor < len(hitEvents) && hitEvents[cursor] == ev {
			cursor++
		}
		starts[i] = start
		ends[i] = cursor
	}
	return starts, ends
}

// MaxEventsInBoth walks two non-decreasing event-number slices in
// lockstep and returns, for every event number present in either slice,
// the larger of its two occurrence counts (0 if absent from one side).
// This is the "merged multiset max" used to reconcile a cluster table
// against a hit table when the two may disagree on how many rows one
// event contributed (e.g. truncated events).
func MaxEventsInBoth(a, b []int64) (events []int64, maxCounts []uint32) {
	i, j := 0, 0
	firstFinished, secondFinished := false, false
	for !firstFinished || !secondFinished {
		firstFinished = i >= len(a)
		secondFinished = j >= len(b)
		switch {
		case firstFinished && secondFinished:
			return events, maxCounts
		case firstFinished:
			ev, n := runLength(b, j)
			events = append(events, ev)
			maxCounts = append(maxCounts, uint32(n))
			j += n
		case secondFinished:
			ev, n := runLength(a, i)
			events = append(events, ev)
			maxCounts = append(maxCounts, uint32(n))
			i += n
		case a[i] < b[j]:
			ev, n := runLength(a, i)
			events = append(events, ev)
			maxCounts = append(maxCounts, uint32(n))
			i += n
		case a[i] > b[j]:
			ev, n := runLength(b, j)
			events = append(events, ev)
			maxCounts = append(maxCounts, uint32(n))
			j += n
		default:
			_, na := runLength(a, i)
			ev, nb := runLength(b, j)
			events = append(events, ev)
			if na > nb {
				maxCounts = append(maxCounts, uint32(na))
			} else {
				maxCounts = append(maxCounts, uint32(nb))
			}
			i += na
			j += nb
		}
	}
	return events, maxCounts
}

func runLength(s []int64, start int) (value int64, length int) {
	value = s[start]
	length = 1
	for start+length < len(s) && s[start+length] == value {
		length++
	}
	return value, length
}

// ErrOutOfRange is returned by Histogram1D/2D/3D when a bin falls
// outside the destination array.
var ErrOutOfRange = fmt.Errorf("eventalign: bin index out of range")

// Histogram1D increments dst[index], reporting ErrOutOfRange instead of
// panicking when index is out of bounds.
func Histogram1D(dst []uint32, index int) error {
	if index < 0 || index >= len(dst) {
		return ErrOutOfRange
	}
	dst[index]++
	return nil
}

// Histogram2D increments dst[i*stride+j].
func Histogram2D(dst []uint32, i, j, stride int) error {
	if j < 0 || j >= stride {
		return ErrOutOfRange
	}
	return Histogram1D(dst, i*stride+j)
}

// Histogram3D increments dst[(i*strideJ+j)*strideK+k].
func Histogram3D(dst []uint32, i, j, k, strideJ, strideK int) error {
	if k < 0 || k >= strideK {
		return ErrOutOfRange
	}
	return Histogram2D(dst, i, j*strideK+k, strideJ*strideK)
}
