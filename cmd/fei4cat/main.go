// Command fei4cat decodes a raw FE-I4 word stream into hits, clusters,
// and occupancy histograms, and prints or renders the result.
//
// Usage:
//
//	fei4cat -i hits.bin [-flavor-b] [-summary] [-png out.png]
//
// The input is a flat file of little-endian 32-bit raw words. There is
// no scan-parameter or readout-meta file format yet; -png and
// -summary both operate on the occupancy/counters accumulated from a
// single pass over the whole input.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io/ioutil"
	"log"
	"os"

	"github.com/aclements/go-moremath/scale"
	"github.com/aclements/go-moremath/vec"
	"github.com/golang/freetype"

	"github.com/silab-bonn/fei4raw/internal/cluster"
	"github.com/silab-bonn/fei4raw/internal/feword"
	"github.com/silab-bonn/fei4raw/internal/histogram"
	"github.com/silab-bonn/fei4raw/internal/interpret"
)

func main() {
	var (
		flagInput   = flag.String("i", "", "read raw words from `file`")
		flagFlavorB = flag.Bool("flavor-b", false, "input is FE-I4B (default FE-I4A)")
		flagSummary = flag.Bool("summary", false, "print interpreter/cluster counters")
		flagPNG     = flag.String("png", "", "render an occupancy heat-map to `file`")
		flagFont    = flag.String("font", "/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf", "TTF font for -png's axis label")
	)
	flag.Parse()
	if *flagInput == "" || flag.NArg() > 0 {
		flag.Usage()
		os.Exit(1)
	}

	words, err := readWords(*flagInput)
	if err != nil {
		log.Fatal(err)
	}

	flavor := feword.FlavorA
	if *flagFlavorB {
		flavor = feword.FlavorB
	}

	ip := interpret.NewInterpreter(flavor, interpret.DefaultSettings())
	if err := ip.InterpretRawData(words); err != nil {
		log.Fatal(err)
	}
	hits := ip.Hits()

	cz := cluster.NewClusterizer(cluster.DefaultSettings())
	clusters, _ := cz.ClusterHits(hits)

	h := histogram.NewHistogram(histogram.Settings{})
	h.EnableOccupancy()
	h.AddHits(hits)

	if *flagSummary {
		printSummary(ip.Stats(), len(hits), len(clusters))
	}

	if *flagPNG != "" {
		if err := renderOccupancyPNG(h, *flagPNG, *flagFont); err != nil {
			log.Fatal(err)
		}
	}

	if !*flagSummary && *flagPNG == "" {
		printASCIIOccupancy(h)
	}
}

func readWords(path string) ([]uint32, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fei4cat: %w", err)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("fei4cat: %s: length %d is not a multiple of 4", path, len(raw))
	}
	words := make([]uint32, len(raw)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return words, nil
}

func printSummary(counters interpret.Counters, nHits, nClusters int) {
	fmt.Printf("data words:     %d\n", counters.DataWords)
	fmt.Printf("events:         %d\n", counters.Events)
	fmt.Printf("empty events:   %d\n", counters.EmptyEvents)
	fmt.Printf("incomplete:     %d\n", counters.IncompleteEvents)
	fmt.Printf("hits:           %d\n", nHits)
	fmt.Printf("clusters:       %d\n", nClusters)
	fmt.Printf("max hits/event: %d\n", counters.MaxHitsPerEvent)
}

// printASCIIOccupancy prints a one-row-per-column bar chart of summed
// occupancy, in the shape of cmd/memlat's terminal-free latency
// histograms but to stdout: each column's total hit count is mapped
// through a linear scale onto a fixed-width bar of '#' characters.
func printASCIIOccupancy(h *histogram.Histogram) {
	sums := h.OccupancySum(0)
	values := make([]float64, len(sums))
	for i, s := range sums {
		values[i] = float64(s)
	}
	maxVal := maxOf(values)
	if maxVal == 0 {
		maxVal = 1
	}
	sc, err := scale.NewLinear(0, maxVal)
	if err != nil {
		log.Fatal(err)
	}
	intensities := vec.Map(sc.Map, values)
	const barWidth = 50
	for col, frac := range intensities {
		n := int(frac * barWidth)
		fmt.Printf("%3d |%s (%.0f)\n", col+1, barString(n, barWidth), values[col])
	}
}

func maxOf(values []float64) float64 {
	var m float64
	for _, v := range values {
		if v > m {
			m = v
		}
	}
	return m
}

func barString(n, width int) string {
	b := make([]byte, width)
	for i := range b {
		if i < n {
			b[i] = '#'
		} else {
			b[i] = ' '
		}
	}
	return string(b)
}

// renderOccupancyPNG draws the per-column occupancy sums as a heat-map
// strip with a freetype-drawn axis label, in the shape of cmd/memanim's
// panel rendering pipeline.
func renderOccupancyPNG(h *histogram.Histogram, path, fontPath string) error {
	sums := h.OccupancySum(0)
	values := make([]float64, len(sums))
	for i, s := range sums {
		values[i] = float64(s)
	}
	maxVal := maxOf(values)
	if maxVal == 0 {
		maxVal = 1
	}
	sc, err := scale.NewLinear(0, maxVal)
	if err != nil {
		return err
	}

	const cellWidth, cellHeight, labelHeight = 8, 200, 20
	width := cellWidth * len(values)
	img := image.NewNRGBA(image.Rect(0, 0, width, cellHeight+labelHeight))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Over)

	for col, v := range values {
		intensity := sc.Map(v)
		c := color.NRGBA{R: uint8(255 * intensity), G: 0, B: uint8(255 * (1 - intensity)), A: 255}
		left := col * cellWidth
		for x := left; x < left+cellWidth; x++ {
			for y := labelHeight; y < labelHeight+cellHeight; y++ {
				img.Set(x, y, c)
			}
		}
	}

	fontData, err := ioutil.ReadFile(fontPath)
	if err != nil {
		// The axis label is decorative; render the heat-map without it
		// rather than failing the whole command over a missing font.
		return writePNG(path, img)
	}
	font, err := freetype.ParseFont(fontData)
	if err != nil {
		return writePNG(path, img)
	}
	fontCtx := freetype.NewContext()
	fontCtx.SetFontSize(12)
	fontCtx.SetSrc(image.Black)
	fontCtx.SetFont(font)
	fontCtx.SetDst(img)
	fontCtx.SetClip(img.Bounds())
	fontCtx.DrawString(fmt.Sprintf("occupancy, max %.0f", maxVal), freetype.Pt(2, 14))

	return writePNG(path, img)
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
