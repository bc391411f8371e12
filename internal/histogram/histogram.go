// Package histogram accumulates occupancy, ToT, TDC, and relative-BCID
// distributions from a hit stream, bucketed by scan parameter, and
// derives a threshold/noise estimate from the resulting S-curve without
// fitting.
package histogram

import (
	"math"

	"github.com/aclements/go-moremath/scale"

	"github.com/silab-bonn/fei4raw/internal/fehit"
)

const (
	numColumns  = 80
	numRows     = 336
	numTotBins  = 16   // ToT is a 4-bit field, 0xF reserved for "no hit"
	numTdcBins  = 4096 // TDC count is a 12-bit field
	numRelBCID  = 16   // default NbCID width; overridden by Settings.NbCID
)

// Settings holds the construction-time parameters (the relative-BCID
// width). The optional histograms are not toggled here: each one's
// backing array is only allocated the first time its Enable* method is
// called, matching Histogram's original allocate-on-demand lifecycle.
type Settings struct {
	NbCID uint16
}

// ScanPoints describes the readout-level scan parameter trace: Value[i]
// is the parameter active from EventIndex[i] (inclusive) to
// EventIndex[i+1] (exclusive). It is the histogram-side counterpart of
// interpret.Interpreter's metaEventIndex output.
type ScanPoints struct {
	EventIndex []int64
	Value      []int32
}

// Histogram accumulates hit distributions across one or more AddHits
// calls. All counters start at zero; occupancy and the per-pixel ToT
// histogram are only allocated once their Enable method is called (there
// is no per-pixel TDC histogram), since a full occupancy table (columns x rows x scan points)
// can be large and most callers only need a subset.
type Histogram struct {
	settings Settings

	occupancy       []uint32 // [col][row][bucket], allocated by EnableOccupancy
	occupancyBuckets int

	tot      [numTotBins]uint32
	tdc      [numTdcBins]uint32
	relBCID  []uint32

	totPixel []uint32 // [col][row][tot], allocated by EnableTotPixel
	tdcBins  int

	scan   ScanPoints
	cursor int

	// ParamScale exposes the distinct scan parameter values as a
	// quantitative axis, for callers rendering a labeled occupancy map.
	ParamScale scale.Quantitative
}

// NewHistogram constructs a Histogram with the given bucketing settings.
func NewHistogram(settings Settings) *Histogram {
	if settings.NbCID == 0 {
		settings.NbCID = numRelBCID
	}
	return &Histogram{
		settings: settings,
		relBCID:  make([]uint32, settings.NbCID),
	}
}

// SetScanPoints installs the readout-to-parameter trace used to bucket
// occupancy by scan parameter. EventIndex must be non-decreasing.
func (h *Histogram) SetScanPoints(sp ScanPoints) {
	h.scan = sp
	h.cursor = 0
	if len(sp.Value) > 0 {
		lo, hi := sp.Value[0], sp.Value[0]
		for _, v := range sp.Value {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if s, err := scale.NewLinear(float64(lo), float64(hi)); err == nil {
			h.ParamScale = s
		}
	}
}

// EnableOccupancy allocates the columns x rows x scan-point occupancy
// table. It is a no-op if already enabled with the same bucket count.
func (h *Histogram) EnableOccupancy() {
	buckets := len(h.scan.Value)
	if buckets == 0 {
		buckets = 1
	}
	if h.occupancy != nil && h.occupancyBuckets == buckets {
		return
	}
	h.occupancy = make([]uint32, numColumns*numRows*buckets)
	h.occupancyBuckets = buckets
}

// EnableTotPixel allocates the columns x rows x ToT per-pixel table.
func (h *Histogram) EnableTotPixel() {
	if h.totPixel != nil {
		return
	}
	h.totPixel = make([]uint32, numColumns*numRows*numTotBins)
}

// AddHits folds hits into every enabled histogram. Hits must arrive with
// non-decreasing EventNumber, matching interpret.Interpreter.Hits's
// output order; the scan-parameter cursor advances monotonically as a
// side effect and is only rewound by SetScanPoints.
func (h *Histogram) AddHits(hits []fehit.Hit) {
	for _, hit := range hits {
		if hit.EventStatus&fehit.NoHit != 0 {
			continue
		}
		h.tot[clampBin(int(hit.ToT), numTotBins)]++
		h.tdc[clampBin(int(hit.TDC), numTdcBins)]++
		if int(hit.RelativeBCID) < len(h.relBCID) {
			h.relBCID[hit.RelativeBCID]++
		}

		if h.occupancy != nil {
			bucket := h.bucketFor(hit.EventNumber)
			idx := pixelIndex(hit.Column, hit.Row, numRows) * h.occupancyBuckets + bucket
			h.occupancy[idx]++
		}
		if h.totPixel != nil {
			idx := pixelIndex(hit.Column, hit.Row, numRows)*numTotBins + clampBin(int(hit.ToT), numTotBins)
			h.totPixel[idx]++
		}
	}
}

// bucketFor advances the monotone scan cursor to the segment containing
// eventNumber and returns its index.
func (h *Histogram) bucketFor(eventNumber int64) int {
	for h.cursor+1 < len(h.scan.EventIndex) && eventNumber >= h.scan.EventIndex[h.cursor+1] {
		h.cursor++
	}
	if h.cursor >= h.occupancyBuckets {
		return h.occupancyBuckets - 1
	}
	return h.cursor
}

func pixelIndex(col uint8, row uint16, rows int) int {
	c := int(col) - 1
	r := int(row) - 1
	if c < 0 {
		c = 0
	}
	if r < 0 {
		r = 0
	}
	return c*rows + r
}

func clampBin(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}

// OccupancySum returns the per-column occupancy summed over all rows for
// one scan bucket, the shape cmd/fei4cat's ASCII renderer plots.
func (h *Histogram) OccupancySum(bucket int) []uint32 {
	sums := make([]uint32, numColumns)
	if h.occupancy == nil {
		return sums
	}
	for col := 0; col < numColumns; col++ {
		var total uint32
		for row := 0; row < numRows; row++ {
			total += h.occupancy[(col*numRows+row)*h.occupancyBuckets+bucket]
		}
		sums[col] = total
	}
	return sums
}

// EstimateThreshold computes a fit-free threshold and noise estimate
// from one pixel's occupancy-vs-scan-parameter S-curve, using the
// method-of-moments closed form: the curve's plateau and its area
// above/below threshold stand in for a Gaussian error function's mean
// and sigma without an iterative fit. injections is the known number
// of injections per scan point (Histogram::calculateThresholdScanArrays's
// rMaxInjections), not inferred from the curve itself: a scan that
// never reaches full efficiency would otherwise understate it.
func EstimateThreshold(counts []uint32, paramValues []float64, injections uint32) (threshold, noise float64) {
	n := len(counts)
	if n == 0 || injections == 0 {
		return 0, 0
	}
	a := float64(injections)
	d := 0.0
	if n > 1 {
		d = paramValues[1] - paramValues[0]
	}
	qMax := paramValues[n-1]

	var m float64
	for _, c := range counts {
		m += float64(c)
	}
	threshold = qMax - d*m/a

	var mu1, mu2 float64
	for k, c := range counts {
		if float64(k)*d < threshold {
			mu1 += float64(c)
		} else {
			mu2 += a - float64(c)
		}
	}
	noise = d * (mu1 + mu2) / a * math.Sqrt(math.Pi/2)
	return threshold, noise
}

// Tot returns the accumulated ToT distribution.
func (h *Histogram) Tot() [numTotBins]uint32 { return h.tot }

// RelBCID returns the accumulated relative-BCID distribution.
func (h *Histogram) RelBCID() []uint32 { return h.relBCID }
