// Package cluster groups the hits of a single event into spatiotemporal
// clusters: connected components over (column, row, relative BCID), the
// way adjacent pixel hits from one particle crossing are recombined into
// one physical cluster.
package cluster

import (
	"sort"

	"github.com/silab-bonn/fei4raw/internal/fehit"
)

const (
	numColumns = 80
	numRows    = 336
)

// Settings holds the tunable bounds of the clustering pass.
type Settings struct {
	NbCID            uint16 // relative-BCID span to cluster over, matches interpret.Settings.NbCID
	MaxHitTot        uint16 // hits with ToT above this are excluded from clustering entirely
	MaxClusterHitTot uint16 // a cluster containing a hit above this is flagged and rejected
	MinClusterHits   uint16
	MaxClusterHits   uint16
}

// DefaultSettings mirrors Clusterizer::setStandardSettings.
func DefaultSettings() Settings {
	return Settings{
		NbCID:            16,
		MaxHitTot:        13,
		MaxClusterHitTot: 13,
		MinClusterHits:   1,
		MaxClusterHits:   ^uint16(0),
	}
}

// Clusterizer groups hits of one event at a time into clusters. It is
// stateless across events: each clusterEvent call (one per event run in
// ClusterHits) processes exactly the hits given to it, which all share
// one EventNumber.
type Clusterizer struct {
	settings Settings

	// scratch, reused across events to avoid reallocating the dense grid
	grid []int32
}

// NewClusterizer constructs a Clusterizer with the given settings.
func NewClusterizer(settings Settings) *Clusterizer {
	return &Clusterizer{settings: settings}
}

// ClusterHits splits hits (which may span many events) into per-event
// runs and clusters each run independently, returning clusters and
// cluster-enriched hits in the same relative order as the input.
func (c *Clusterizer) ClusterHits(hits []fehit.Hit) ([]fehit.Cluster, []fehit.ClusterHit) {
	var clusters []fehit.Cluster
	chits := make([]fehit.ClusterHit, 0, len(hits))

	start := 0
	for start < len(hits) {
		end := start + 1
		for end < len(hits) && hits[end].EventNumber == hits[start].EventNumber {
			end++
		}
		eventClusters, eventHits := c.clusterEvent(hits[start:end])
		clusters = append(clusters, eventClusters...)
		chits = append(chits, eventHits...)
		start = end
	}
	return clusters, chits
}

// clusterEvent clusters one event's worth of hits, all sharing the same
// EventNumber. Hits above MaxHitTot are carried through untouched (no
// cluster membership) rather than dropped.
func (c *Clusterizer) clusterEvent(hits []fehit.Hit) ([]fehit.Cluster, []fehit.ClusterHit) {
	out := make([]fehit.ClusterHit, len(hits))
	for i, h := range hits {
		out[i] = fehit.ClusterHit{Hit: h}
	}

	nbCID := int(c.settings.NbCID)
	if nbCID == 0 {
		nbCID = 1
	}
	gridSize := numColumns * numRows * nbCID
	if cap(c.grid) < gridSize {
		c.grid = make([]int32, gridSize)
	}
	grid := c.grid[:gridSize]
	for i := range grid {
		grid[i] = -1
	}

	eligible := make([]int, 0, len(hits))
	for i, h := range hits {
		if uint16(h.ToT) > c.settings.MaxHitTot {
			continue
		}
		idx := gridIndex(int(h.Column), int(h.Row), int(h.RelativeBCID), nbCID)
		if idx < 0 {
			continue
		}
		grid[idx] = int32(i)
		eligible = append(eligible, i)
	}

	// Seed scan order is relBCID, then column, then row, matching
	// Clusterizer's own triple-nested scan over the dense grid, so seed
	// assignment and tie-breaks are deterministic the same way.
	sort.SliceStable(eligible, func(x, y int) bool {
		a, b := hits[eligible[x]], hits[eligible[y]]
		if a.RelativeBCID != b.RelativeBCID {
			return a.RelativeBCID < b.RelativeBCID
		}
		if a.Column != b.Column {
			return a.Column < b.Column
		}
		return a.Row < b.Row
	})

	var clusters []fehit.Cluster
	visited := make([]bool, len(hits))

	for _, seed := range eligible {
		if visited[seed] {
			continue
		}
		// floodFill marks every member visited regardless of what
		// happens to the cluster below, so a rejected cluster's hits
		// are still consumed (never re-seed another cluster).
		members := c.floodFill(hits, grid, nbCID, seed, visited)
		cl := buildCluster(hits, members)

		if uint16(cl.Size) < c.settings.MinClusterHits ||
			uint16(cl.Size) > c.settings.MaxClusterHits ||
			clusterMaxTot(hits, members) > c.settings.MaxClusterHitTot {
			// Aborted: the hits are consumed above but the cluster is
			// not written to the result arrays, matching Clusterizer's
			// size/ToT rejection contract. The member hits still carry
			// ClusterSizeError so a caller scanning hits alone can see
			// they came from a rejected cluster.
			for _, m := range members {
				out[m].EventStatus |= fehit.ClusterSizeError
			}
			continue
		}

		id := uint16(len(clusters))
		cl.ID = id
		// Same seed rule as buildCluster: first member with the maximum ToT.
		seedIdx := members[0]
		for _, m := range members {
			if hits[m].ToT > hits[seedIdx].ToT {
				seedIdx = m
			}
		}
		for _, m := range members {
			out[m].ClusterID = id
			out[m].ClusterSize = cl.Size
			out[m].IsSeed = m == seedIdx
		}
		clusters = append(clusters, cl)
	}

	n := uint16(len(clusters))
	for i := range out {
		out[i].NClusterInEvent = n
	}
	return clusters, out
}

// gridIndex maps 1-based column/row and a relative BCID into the dense
// grid used for flood fill. Returns -1 for anything outside bounds.
func gridIndex(col, row, relBCID, nbCID int) int {
	col--
	row--
	if col < 0 || col >= numColumns || row < 0 || row >= numRows || relBCID < 0 || relBCID >= nbCID {
		return -1
	}
	return col + row*numColumns + relBCID*numColumns*numRows
}

// floodFill grows a connected component from seed over the 26-neighbor
// (3x3 pixel neighbourhood x 3 time steps, the hit itself excluded) adjacency,
// queue-based to avoid recursion depth concerns on dense events. It
// returns member hit indices in visitation order, first-visited first,
// so the caller's seed tie-break ("first max wins") only needs to scan
// members in this order.
func (c *Clusterizer) floodFill(hits []fehit.Hit, grid []int32, nbCID, seed int, visited []bool) []int {
	queue := []int{seed}
	visited[seed] = true
	members := []int{seed}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		h := hits[cur]
		col, row, bcid := int(h.Column)-1, int(h.Row)-1, int(h.RelativeBCID)

		for dt := -1; dt <= 1; dt++ {
			for dc := -1; dc <= 1; dc++ {
				for dr := -1; dr <= 1; dr++ {
					if dc == 0 && dr == 0 && dt == 0 {
						continue
					}
					nc, nr, nt := col+dc, row+dr, bcid+dt
					if nc < 0 || nc >= numColumns || nr < 0 || nr >= numRows || nt < 0 || nt >= nbCID {
						continue
					}
					idx := nc + nr*numColumns + nt*numColumns*numRows
					neighbor := grid[idx]
					if neighbor < 0 || visited[neighbor] {
						continue
					}
					visited[neighbor] = true
					members = append(members, int(neighbor))
					queue = append(queue, int(neighbor))
				}
			}
		}
	}
	return members
}

// buildCluster computes the seed (first-visited hit with the highest
// ToT wins ties, per the documented "first max wins" contract), the
// charge-weighted mean position, and the ToT/charge sums for one
// cluster's members.
func buildCluster(hits []fehit.Hit, members []int) fehit.Cluster {
	seedIdx := members[0]
	seedTot := hits[seedIdx].ToT

	var totSum uint32
	var chargeSum, wCol, wRow float64
	for _, m := range members {
		h := hits[m]
		charge := float64(h.ToT) + 1
		totSum += uint32(h.ToT)
		chargeSum += charge
		wCol += charge * float64(h.Column)
		wRow += charge * float64(h.Row)

		if h.ToT > seedTot {
			seedIdx = m
			seedTot = h.ToT
		}
	}

	mean := func(w float64) float64 {
		if chargeSum == 0 {
			return 0
		}
		return w / chargeSum
	}

	return fehit.Cluster{
		EventNumber: hits[members[0]].EventNumber,
		Size:        uint16(len(members)),
		ToTSum:      totSum,
		ChargeSum:   chargeSum,
		SeedColumn:  hits[seedIdx].Column,
		SeedRow:     hits[seedIdx].Row,
		MeanColumn:  mean(wCol),
		MeanRow:     mean(wRow),
	}
}

func clusterMaxTot(hits []fehit.Hit, members []int) uint16 {
	var max uint16
	for _, m := range members {
		if t := uint16(hits[m].ToT); t > max {
			max = t
		}
	}
	return max
}

// ShapeHistograms holds cluster shape statistics, grounded directly in
// Clusterizer::addClusterToResults's _clusterTots/_clusterHits counters.
type ShapeHistograms struct {
	// SizeCount[n] is the number of clusters with exactly n+1 hits, for
	// n+1 in [1, len(SizeCount)]; larger clusters fall into the last bin.
	SizeCount [64]uint32
	// TotBySize[n] is the summed ToT of all clusters with n+1 hits.
	TotBySize [64]uint32
}

// Accumulate folds clusters into h, bucketing by cluster size with the
// last bin catching every cluster at or above the table's width.
func (h *ShapeHistograms) Accumulate(clusters []fehit.Cluster) {
	for _, cl := range clusters {
		bin := int(cl.Size) - 1
		if bin < 0 {
			bin = 0
		}
		if bin >= len(h.SizeCount) {
			bin = len(h.SizeCount) - 1
		}
		h.SizeCount[bin]++
		h.TotBySize[bin] += cl.ToTSum
	}
}
