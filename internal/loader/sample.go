package loader

import (
	"fmt"
	"math/rand/v2"
	"strconv"

	"ride-router/internal/models"
)

// DefaultSampleSize is the number of staff generated when no count is given
const DefaultSampleSize = 20

// MaxSampleSize caps generated staff lists
const MaxSampleSize = 5000

// Bounding box of the generated sample, around central Accra
const (
	SampleMinLat = 5.5526
	SampleMaxLat = 5.6126
	SampleMinLng = -0.1735
	SampleMaxLng = -0.1135
)

var sampleAddresses = []string{
	"Adabraka", "Osu", "Cantonments", "Airport Residential", "East Legon",
	"Spintex", "Tema", "Teshie", "Labadi", "Labone",
	"Ridge", "Roman Ridge", "Dzorwulu", "Abelemkpe", "North Kaneshie",
	"Dansoman", "Mamprobi", "Chorkor", "Abeka", "Achimota",
}

// Sample generates count staff scattered uniformly over the sample box.
// The same seed always yields the same list.
func Sample(count int, seed uint64) []models.StaffRecord {
	if count <= 0 {
		count = DefaultSampleSize
	}
	if count > MaxSampleSize {
		count = MaxSampleSize
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	staff := make([]models.StaffRecord, count)
	for i := range staff {
		n := i + 1
		staff[i] = models.StaffRecord{
			ID:        strconv.Itoa(n),
			Name:      fmt.Sprintf("Employee %d", n),
			Lat:       SampleMinLat + rng.Float64()*(SampleMaxLat-SampleMinLat),
			Lng:       SampleMinLng + rng.Float64()*(SampleMaxLng-SampleMinLng),
			Address:   sampleAddresses[i%len(sampleAddresses)] + ", Accra",
			ClusterID: models.Unclustered,
		}
	}
	return staff
}
