// Package vsync estimates the display's refresh interval and its jitter
// from reported swap times. The display never tells us when vsync
// happens; everything here is statistics over what the backend reports.
package vsync

import (
	"math"
)

// DefaultSampleCount is the default size of the bounded sample ring.
const DefaultSampleCount = 256

// SampleStats keeps moving statistics over a bounded ring of samples:
// the last value, the running average and the peak over the retained
// window.
type SampleStats struct {
	samples []float64
	pos     int
	count   int
	sum     float64
	last    float64
}

func NewSampleStats(sampleCount int) *SampleStats {
	if sampleCount < 1 {
		sampleCount = DefaultSampleCount
	}
	return &SampleStats{
		samples: make([]float64, sampleCount),
	}
}

func (s *SampleStats) Add(v float64) {
	if s.count == len(s.samples) {
		s.sum -= s.samples[s.pos]
	} else {
		s.count++
	}
	s.samples[s.pos] = v
	s.sum += v
	s.pos = (s.pos + 1) % len(s.samples)
	s.last = v
}

func (s *SampleStats) Count() int {
	return s.count
}

func (s *SampleStats) Last() float64 {
	return s.last
}

func (s *SampleStats) Avg() float64 {
	if s.count == 0 {
		return 0
	}
	return s.sum / float64(s.count)
}

func (s *SampleStats) Peak() float64 {
	peak := 0.0
	for i := 0; i < s.count; i++ {
		peak = math.Max(peak, s.samples[i])
	}
	return peak
}

// StdDev is the standard deviation over the retained window.
func (s *SampleStats) StdDev() float64 {
	if s.count < 2 {
		return 0
	}
	avg := s.Avg()
	acc := 0.0
	for i := 0; i < s.count; i++ {
		d := s.samples[i] - avg
		acc += d * d
	}
	return math.Sqrt(acc / float64(s.count-1))
}

// Reset discards all samples (back to the seed state).
func (s *SampleStats) Reset() {
	s.pos = 0
	s.count = 0
	s.sum = 0
	s.last = 0
}
