package geo

import (
	"errors"
	"math"
)

// Affine maps pixel (col, row) to CRS coordinates in GDAL coefficient order:
//
//	x = C + col*A + row*B
//	y = F + col*D + row*E
type Affine struct {
	A, B, C float64
	D, E, F float64
}

// NorthUp builds the common transform from an upper-left origin and pixel size.
func NorthUp(originX, originY, pixelW, pixelH float64) Affine {
	return Affine{A: pixelW, C: originX, E: -math.Abs(pixelH), F: originY}
}

func (t Affine) Apply(col, row float64) Point {
	return Point{
		X: t.C + col*t.A + row*t.B,
		Y: t.F + col*t.D + row*t.E,
	}
}

// PixelCenter returns the CRS coordinate at the center of pixel (col, row).
func (t Affine) PixelCenter(col, row int) Point {
	return t.Apply(float64(col)+0.5, float64(row)+0.5)
}

// PixelArea is |x_scale * y_scale| in squared CRS units.
func (t Affine) PixelArea() float64 {
	return math.Abs(t.A * t.E)
}

func (t Affine) IsZero() bool {
	return t == Affine{}
}

func (t Affine) Invert() (Affine, error) {
	det := t.A*t.E - t.B*t.D
	if det == 0 {
		return Affine{}, errors.New("affine transform is not invertible")
	}
	ia := t.E / det
	ib := -t.B / det
	id := -t.D / det
	ie := t.A / det
	return Affine{
		A: ia, B: ib, C: -(ia*t.C + ib*t.F),
		D: id, E: ie, F: -(id*t.C + ie*t.F),
	}, nil
}

// Extent returns the CRS bounds covered by a width x height grid.
func (t Affine) Extent(width, height int) Bounds {
	b := EmptyBounds()
	for _, c := range [][2]float64{{0, 0}, {float64(width), 0}, {0, float64(height)}, {float64(width), float64(height)}} {
		b = b.Extend(t.Apply(c[0], c[1]))
	}
	return b
}
