package domain

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// TestResult is the laboratory outcome of a surveillance sample.
type TestResult string

const (
	ResultPositive     TestResult = "positive"
	ResultNegative     TestResult = "negative"
	ResultInconclusive TestResult = "inconclusive"
	ResultInvalid      TestResult = "invalid"
)

// Valid reports whether r is one of the known test results.
func (r TestResult) Valid() bool {
	switch r {
	case ResultPositive, ResultNegative, ResultInconclusive, ResultInvalid:
		return true
	}
	return false
}

// Coordinate is a WGS84 point in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the coordinate is finite and inside the WGS84 range.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) ||
		math.IsInf(c.Latitude, 0) || math.IsInf(c.Longitude, 0) {
		return false
	}
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// SampleRecord is one tested specimen collected at a trap location.
type SampleRecord struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenantId,omitempty"`
	Latitude    float64        `json:"latitude"`
	Longitude   float64        `json:"longitude"`
	CollectedAt time.Time      `json:"collectedAt"`
	Result      TestResult     `json:"result"`
	LocationID  string         `json:"locationId"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Coordinate returns the sample position.
func (s SampleRecord) Coordinate() Coordinate {
	return Coordinate{Latitude: s.Latitude, Longitude: s.Longitude}
}

// IsPositive reports whether the sample tested positive.
func (s SampleRecord) IsPositive() bool {
	return s.Result == ResultPositive
}

// Validate checks the fields every analysis depends on.
func (s SampleRecord) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: sample id is required", ErrInvalidInput)
	}
	if !s.Coordinate().Valid() {
		return fmt.Errorf("%w: sample %s has invalid coordinate (%v, %v)", ErrInvalidInput, s.ID, s.Latitude, s.Longitude)
	}
	if s.CollectedAt.IsZero() {
		return fmt.Errorf("%w: sample %s has no collection timestamp", ErrInvalidInput, s.ID)
	}
	if !s.Result.Valid() {
		return fmt.Errorf("%w: sample %s has unknown result %q", ErrInvalidInput, s.ID, s.Result)
	}
	return nil
}

// ValidateSamples validates every record and returns the first failure.
func ValidateSamples(samples []SampleRecord) error {
	for i := range samples {
		if err := samples[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SortCanonical orders samples by collection time, breaking ties by id.
// The sort is stable so records sharing both keys keep their input order.
func SortCanonical(samples []SampleRecord) {
	sort.SliceStable(samples, func(i, j int) bool {
		if !samples[i].CollectedAt.Equal(samples[j].CollectedAt) {
			return samples[i].CollectedAt.Before(samples[j].CollectedAt)
		}
		return samples[i].ID < samples[j].ID
	})
}

// CountPositives returns the number of positive samples.
func CountPositives(samples []SampleRecord) int {
	n := 0
	for i := range samples {
		if samples[i].IsPositive() {
			n++
		}
	}
	return n
}

// PositivityRate returns positives over total, or zero for an empty slice.
func PositivityRate(samples []SampleRecord) float64 {
	if len(samples) == 0 {
		return 0
	}
	return float64(CountPositives(samples)) / float64(len(samples))
}

// SampleFilter narrows a sample fetch. Zero values mean "no constraint".
type SampleFilter struct {
	From        time.Time    `json:"from,omitempty"`
	To          time.Time    `json:"to,omitempty"`
	LocationIDs []string     `json:"locationIds,omitempty"`
	Results     []TestResult `json:"results,omitempty"`
	Limit       int          `json:"limit,omitempty"`
}
