package tensor

import "math"

// BFloat16 is a 16-bit brain float: the upper half of an IEEE-754 float32.
type BFloat16 uint16

// BF16FromFloat32 narrows f with a single round-to-nearest-even step.
func BF16FromFloat32(f float32) BFloat16 {
	u := math.Float32bits(f)
	if u&0x7FFFFFFF > 0x7F800000 {
		// Keep NaN quiet; rounding could otherwise carry it into Inf.
		return BFloat16((u >> 16) | 0x40)
	}
	rnd := uint32(0x7FFF + ((u >> 16) & 1))
	return BFloat16((u + rnd) >> 16)
}

// Float32 widens b exactly.
func (b BFloat16) Float32() float32 {
	return math.Float32frombits(uint32(b) << 16)
}

// BF16Slice converts float32 values to bf16.
func BF16Slice(src []float32) []BFloat16 {
	out := make([]BFloat16, len(src))
	for i, v := range src {
		out[i] = BF16FromFloat32(v)
	}
	return out
}

// Float32Slice widens bf16 values.
func Float32Slice(src []BFloat16) []float32 {
	out := make([]float32, len(src))
	for i, v := range src {
		out[i] = v.Float32()
	}
	return out
}
