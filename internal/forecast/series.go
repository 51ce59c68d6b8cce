package forecast

import (
	"time"

	"github.com/opensource-health/kestrel/internal/domain"
)

// BuildSeries buckets samples into consecutive bucketDays-wide periods
// anchored at the UTC day of the earliest sample. Buckets between the first
// and last sample are always present, empty ones with zero totals.
func BuildSeries(samples []domain.SampleRecord, bucketDays int) []domain.SeriesPoint {
	if len(samples) == 0 || bucketDays < 1 {
		return []domain.SeriesPoint{}
	}
	first, last := samples[0].CollectedAt.UTC(), samples[0].CollectedAt.UTC()
	for _, s := range samples[1:] {
		at := s.CollectedAt.UTC()
		if at.Before(first) {
			first = at
		}
		if at.After(last) {
			last = at
		}
	}
	anchor := first.Truncate(24 * time.Hour)
	width := time.Duration(bucketDays) * 24 * time.Hour

	series := make([]domain.SeriesPoint, int(last.Sub(anchor)/width)+1)
	for i := range series {
		series[i].Start = anchor.Add(time.Duration(i) * width)
	}
	for _, s := range samples {
		b := &series[int(s.CollectedAt.UTC().Sub(anchor)/width)]
		b.Total++
		if s.IsPositive() {
			b.Positives++
		}
	}
	for i := range series {
		if series[i].Total > 0 {
			series[i].Rate = float64(series[i].Positives) / float64(series[i].Total)
		}
	}
	return series
}

// populated counts buckets holding at least one sample.
func populated(series []domain.SeriesPoint) int {
	n := 0
	for _, p := range series {
		if p.Total > 0 {
			n++
		}
	}
	return n
}

// rates returns the bucket rates with empty buckets filled by linear
// interpolation between their populated neighbours.
func rates(series []domain.SeriesPoint) []float64 {
	y := make([]float64, len(series))
	prev := -1
	for i, p := range series {
		if p.Total == 0 {
			continue
		}
		y[i] = p.Rate
		if prev >= 0 && i-prev > 1 {
			for j := prev + 1; j < i; j++ {
				frac := float64(j-prev) / float64(i-prev)
				y[j] = y[prev] + frac*(y[i]-y[prev])
			}
		}
		prev = i
	}
	return y
}
