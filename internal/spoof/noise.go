package spoof

import "math"

// LCG is the linear-congruential generator the patch program uses for canvas and audio noise.
// The Go copy produces the same sequence, so noise can be reproduced outside the browser.
type LCG struct {
	state uint32
}

// NewLCG seeds a generator; only the low 32 bits of the seed are used
func NewLCG(seed int64) *LCG {
	return &LCG{state: uint32(seed)}
}

// Next returns the next value in [0, 1)
func (g *LCG) Next() float64 {
	g.state = g.state*1664525 + 1013904223
	return float64(g.state) / 4294967296
}

// PerturbPixels adds bounded noise to roughly ratio of the RGBA pixels in data, in place.
// Alpha is never touched. It returns the number of pixels perturbed.
func PerturbPixels(data []byte, seed int64, ratio float64, maxDelta int) int {
	next := NewLCG(seed)
	perturbed := 0
	for i := 0; i+3 < len(data); i += 4 {
		if next.Next() >= ratio {
			continue
		}
		perturbed++
		for c := 0; c < 3; c++ {
			v := int(data[i+c]) + int(math.Floor(next.Next()*float64(2*maxDelta+1))) - maxDelta
			data[i+c] = byte(min(max(v, 0), 255))
		}
	}
	return perturbed
}

// PerturbSamples adds noise of at most level to every stride-th sample, in place
func PerturbSamples(samples []float32, seed int64, level float64, stride int) {
	if stride <= 0 {
		return
	}
	next := NewLCG(seed)
	for i := 0; i < len(samples); i += stride {
		samples[i] = float32(float64(samples[i]) + (next.Next()*2-1)*level)
	}
}
