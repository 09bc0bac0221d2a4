package instrument

import "math/rand/v2"

// Sampler decides per invocation whether an execution is captured.
type Sampler struct {
	rate float64
	draw func() float64
}

// NewSampler returns a sampler that captures a rate fraction of invocations.
// Rates outside [0,1] are clamped.
func NewSampler(rate float64) Sampler {
	return NewSamplerWithSource(rate, rand.Float64)
}

// NewSamplerWithSource uses draw, which must return values uniformly in
// [0,1), instead of the default random source.
func NewSamplerWithSource(rate float64, draw func() float64) Sampler {
	switch {
	case rate < 0:
		rate = 0
	case rate > 1:
		rate = 1
	}
	if draw == nil {
		draw = rand.Float64
	}
	return Sampler{rate: rate, draw: draw}
}

func (s Sampler) Rate() float64 {
	return s.rate
}

// Sample draws once and reports whether to capture.
func (s Sampler) Sample() bool {
	if s.rate <= 0 {
		return false
	}
	if s.rate >= 1 || s.draw == nil {
		return true
	}
	return s.draw() < s.rate
}
