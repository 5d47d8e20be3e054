package models

// PointSet is a row-major buffer of float32 points. Each row is either
// (x, y, z) or (x, y, z, packed color).
type PointSet struct {
	// The number of float32 values per point. Valid widths are 3 and 4.
	Width int

	// Row-major point values. Its length is a multiple of Width.
	Data []float32
}

// NewPointSet returns a point set made of the given rows. Rows are copied.
func NewPointSet(width int, rows ...[]float32) PointSet {
	data := make([]float32, 0, len(rows)*width)
	for _, r := range rows {
		data = append(data, r...)
	}

	return PointSet{
		Width: width,
		Data:  data,
	}
}

// Len returns the number of points.
func (p PointSet) Len() int {
	if p.Width <= 0 {
		return 0
	}
	return len(p.Data) / p.Width
}

// Row returns the i-th point. The returned slice shares the underlying buffer.
func (p PointSet) Row(i int) []float32 {
	return p.Data[i*p.Width : (i+1)*p.Width : (i+1)*p.Width]
}

// Rows returns a copy of the points as a slice of rows.
func (p PointSet) Rows() [][]float32 {
	rows := make([][]float32, p.Len())
	for i := range rows {
		rows[i] = append([]float32(nil), p.Row(i)...)
	}
	return rows
}

// HasValidShape reports whether the width is 3 or 4 and the data holds a whole
// number of rows.
func (p PointSet) HasValidShape() bool {
	return (p.Width == 3 || p.Width == 4) && len(p.Data)%p.Width == 0
}

// WithColors returns a width 4 point set where each row is the xyz row of p
// followed by the packed color of the matching rgb triple.
func (p PointSet) WithColors(rgb []uint8) PointSet {
	n := p.Len()
	data := make([]float32, 0, n*4)

	for i := 0; i < n; i++ {
		row := p.Row(i)
		data = append(data,
			row[0],
			row[1],
			row[2],
			PackRGB(rgb[i*3], rgb[i*3+1], rgb[i*3+2]),
		)
	}

	return PointSet{
		Width: 4,
		Data:  data,
	}
}
