package source

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/rus-connect/filterbench/pkg/common"
)

var demoCloses = []float64{100, 102, 105, 103, 106, 108, 105, 110, 112, 115, 110, 108, 105, 102, 100, 98, 95, 97, 100, 103}

// Demo returns the 20-day sample series starting 2025-01-01.
func Demo() common.PriceSeries {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make(common.PriceSeries, len(demoCloses))
	for i, c := range demoCloses {
		out[i] = common.PricePoint{Timestamp: start.AddDate(0, 0, i), Close: c}
	}
	return out
}

// RandomWalk returns n daily points of a multiplicative random walk starting
// at 100. The same seed always yields the same series.
func RandomWalk(n int, start time.Time, seed int64) common.PriceSeries {
	rng := rand.New(rand.NewSource(seed))
	out := make(common.PriceSeries, n)
	price := 100.0
	for i := range out {
		out[i] = common.PricePoint{Timestamp: start.AddDate(0, 0, i), Close: math.Round(price*100) / 100}
		price *= 1 + rng.NormFloat64()*0.02
		if price < 0.01 {
			price = 0.01
		}
	}
	return out
}

// DemoLoader serves Demo, or a RandomWalk when Points is set.
type DemoLoader struct {
	Points int
	Seed   int64
}

func (l DemoLoader) Load(_ context.Context, q Query) (common.PriceSeries, error) {
	points := Demo()
	if l.Points > 0 {
		points = RandomWalk(l.Points, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), l.Seed)
	}
	return Normalize(points, q)
}
