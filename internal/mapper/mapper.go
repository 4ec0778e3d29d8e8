// Package mapper converts between geographic coordinates and H3 cells.
package mapper

import "github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/geo"

type Interface interface {
	CellAt(lat, lng float64, res int) (string, error)
	CellsForPolygon(poly geo.MultiPolygon, res int) ([]string, error)
}
