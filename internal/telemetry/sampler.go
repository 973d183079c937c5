package telemetry

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Reading ranges.
const (
	TempSpan      = 15.0
	HumidityBase  = 70.0
	HumiditySpan  = 10.0
	DefaultTarget = 0.0
)

// Sample is one telemetry reading.
type Sample struct {
	Temp  float64   `json:"temp"`
	Humid float64   `json:"humid"`
	Time  time.Time `json:"-"`
}

// Sampler generates synthetic readings around a target temperature.
//
// Thread Safety:
//   - Sample is safe for concurrent use.
type Sampler struct {
	target float64

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSampler creates a Sampler. A nil src uses a randomly seeded PCG.
func NewSampler(target float64, src rand.Source) *Sampler {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Sampler{target: target, rnd: rand.New(src)}
}

// Target returns the baseline temperature.
func (s *Sampler) Target() float64 {
	return s.target
}

// Sample draws one reading stamped with now.
func (s *Sampler) Sample(now time.Time) Sample {
	s.mu.Lock()
	t, h := s.rnd.Float64(), s.rnd.Float64()
	s.mu.Unlock()

	return Sample{
		Temp:  offset(s.target, TempSpan, t),
		Humid: offset(HumidityBase, HumiditySpan, h),
		Time:  now,
	}
}

// offset returns base + f*span, kept strictly below base+span where
// rounding would otherwise reach it.
func offset(base, span, f float64) float64 {
	v := base + f*span
	if limit := base + span; v >= limit {
		return math.Nextafter(limit, base)
	}
	return v
}
