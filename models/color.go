package models

import "math"

// PackRGB packs a color into the bits of a float32 as (r<<16)|(g<<8)|b.
//
// The value is a bit reinterpretation, not a numeric conversion: most packed
// colors decode to denormal floats and must be carried bit-exact.
func PackRGB(r, g, b uint8) float32 {
	return math.Float32frombits(uint32(r)<<16 | uint32(g)<<8 | uint32(b))
}

// UnpackRGB reverses PackRGB.
func UnpackRGB(v float32) (r, g, b uint8) {
	bits := math.Float32bits(v)
	return uint8(bits >> 16), uint8(bits >> 8), uint8(bits)
}
