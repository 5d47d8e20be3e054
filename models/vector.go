package models

import "github.com/chewxy/math32"

// Vec3 is a float32 position.
type Vec3 struct {
	X float32
	Y float32
	Z float32
}

func NewVec3(x, y, z float32) Vec3 {
	return Vec3{x, y, z}
}

func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

func (v Vec3) Mul(s float32) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}

func (v Vec3) Length() float32 {
	return math32.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// IsNaN reports whether any component is NaN.
func (v Vec3) IsNaN() bool {
	return math32.IsNaN(v.X) || math32.IsNaN(v.Y) || math32.IsNaN(v.Z)
}

// Centroid returns the mean position of the xyz columns of p.
func Centroid(p PointSet) Vec3 {
	n := p.Len()
	if n == 0 {
		return Vec3{}
	}

	var x, y, z float64
	for i := 0; i < n; i++ {
		row := p.Row(i)
		x += float64(row[0])
		y += float64(row[1])
		z += float64(row[2])
	}

	return Vec3{
		X: float32(x / float64(n)),
		Y: float32(y / float64(n)),
		Z: float32(z / float64(n)),
	}
}

// Radius returns the largest distance between the origin and a point of p.
func Radius(p PointSet) float32 {
	var radius float32
	for i := 0; i < p.Len(); i++ {
		row := p.Row(i)
		radius = math32.Max(radius, Vec3{row[0], row[1], row[2]}.Length())
	}
	return radius
}
