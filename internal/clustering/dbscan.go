package clustering

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sort"

	"ride-router/internal/distance"
	"ride-router/internal/models"
)

// KmPerDegree converts a radius in kilometers to decimal degrees. It is the
// length of one degree of latitude and is only approximate for longitude away
// from the equator, which is acceptable at city scale.
const KmPerDegree = 111.0

var (
	// ErrInvalidEps is returned when the neighbourhood radius is not positive
	ErrInvalidEps = errors.New("eps must be a positive number of kilometers")
	// ErrInvalidMinClusterSize is returned when the minimum cluster size is below 1
	ErrInvalidMinClusterSize = errors.New("minimum cluster size must be at least 1")
)

// Clusterer groups staff locations into density-based clusters
type Clusterer struct {
	distanceCalc distance.Calculator
}

// New creates a clusterer that uses distanceCalc for outlier reassignment
func New(distanceCalc distance.Calculator) *Clusterer {
	return &Clusterer{distanceCalc: distanceCalc}
}

// Cluster assigns a cluster id to every staff record and returns the labelled
// copy; the input slice is not modified.
//
// Clustering is DBSCAN over latitude/longitude in degrees with radius
// epsKm/KmPerDegree and min_samples = minClusterSize. Points left unclustered
// are then moved to the cluster with the smallest average distance to its
// members. When no cluster forms at all, every record keeps models.Unclustered.
func (c *Clusterer) Cluster(staff []models.StaffRecord, epsKm float64, minClusterSize int) ([]models.StaffRecord, error) {
	if epsKm <= 0 || math.IsNaN(epsKm) || math.IsInf(epsKm, 0) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidEps, epsKm)
	}
	if minClusterSize < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidMinClusterSize, minClusterSize)
	}

	out := make([]models.StaffRecord, len(staff))
	copy(out, staff)
	if len(out) == 0 {
		return out, nil
	}

	points := make([]models.Coordinates, len(out))
	for i := range out {
		points[i] = out[i].GetCoords()
	}

	labels := dbscan(points, epsKm/KmPerDegree, minClusterSize)

	clusters, outliers := 0, 0
	for _, l := range labels {
		if l == models.Unclustered {
			outliers++
		} else if l+1 > clusters {
			clusters = l + 1
		}
	}
	log.Printf("[CLUSTER] DBSCAN complete: points=%d eps_km=%.2f min_samples=%d clusters=%d outliers=%d",
		len(points), epsKm, minClusterSize, clusters, outliers)

	if outliers > 0 && clusters > 0 {
		c.reassignOutliers(points, labels)
	}

	for i := range out {
		out[i].ClusterID = labels[i]
	}
	return out, nil
}

// dbscan labels points with cluster ids in order of their lowest-index core
// point. Border points keep the first cluster that reaches them.
func dbscan(points []models.Coordinates, eps float64, minSamples int) []int {
	n := len(points)
	epsSq := eps * eps

	neighborhoods := make([][]int, n)
	for i := 0; i < n; i++ {
		neighborhoods[i] = append(neighborhoods[i], i)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			dLat := points[i].Lat - points[j].Lat
			dLng := points[i].Lng - points[j].Lng
			if dLat*dLat+dLng*dLng <= epsSq {
				neighborhoods[i] = append(neighborhoods[i], j)
				neighborhoods[j] = append(neighborhoods[j], i)
			}
		}
	}

	labels := make([]int, n)
	for i := range labels {
		labels[i] = models.Unclustered
	}

	isCore := func(i int) bool { return len(neighborhoods[i]) >= minSamples }

	next := 0
	var stack []int
	for i := 0; i < n; i++ {
		if labels[i] != models.Unclustered || !isCore(i) {
			continue
		}

		labels[i] = next
		stack = append(stack[:0], i)
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if !isCore(p) {
				continue
			}
			for _, q := range neighborhoods[p] {
				if labels[q] == models.Unclustered {
					labels[q] = next
					stack = append(stack, q)
				}
			}
		}
		next++
	}

	return labels
}

// reassignOutliers moves every unclustered point to the cluster with the
// lowest average distance to its members. Averages are taken against the
// clusters as DBSCAN produced them, so the result does not depend on the order
// outliers are visited. Ties go to the lowest cluster id.
func (c *Clusterer) reassignOutliers(points []models.Coordinates, labels []int) {
	members := Members(labels)
	ids := SortedIDs(members)

	var moved []int
	for i, l := range labels {
		if l != models.Unclustered {
			continue
		}

		best := models.Unclustered
		bestAvg := math.Inf(1)
		for _, id := range ids {
			sum := 0.0
			for _, m := range members[id] {
				sum += c.distanceCalc.Kilometers(points[i], points[m])
			}
			avg := sum / float64(len(members[id]))
			if avg < bestAvg {
				bestAvg = avg
				best = id
			}
		}
		moved = append(moved, i)
		labels[i] = best
	}

	log.Printf("[CLUSTER] Reassigned outliers: count=%d", len(moved))
}

// Members groups point indices by cluster id, keeping input order within each
// cluster. Unclustered points are left out.
func Members(labels []int) map[int][]int {
	members := make(map[int][]int)
	for i, l := range labels {
		if l == models.Unclustered {
			continue
		}
		members[l] = append(members[l], i)
	}
	return members
}

// SortedIDs returns the cluster ids of members in ascending order
func SortedIDs(members map[int][]int) []int {
	ids := make([]int, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Labels extracts the cluster ids of staff in input order
func Labels(staff []models.StaffRecord) []int {
	labels := make([]int, len(staff))
	for i := range staff {
		labels[i] = staff[i].ClusterID
	}
	return labels
}
