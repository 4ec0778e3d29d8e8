package analyzer

import (
	"fmt"
	"math"
)

// NoData marks pixels excluded from every statistic.
const NoData = -9999.0

// ComputeNDVI returns (nir-red)/(nir+red) per pixel clamped to [-1, 1]. Pixels
// whose sum is zero, or where either band holds nodata, are set to nodata
// without being divided.
func ComputeNDVI(red, nir []float64, nodata float64) ([]float64, error) {
	if len(red) != len(nir) {
		return nil, fmt.Errorf("%w: band sizes differ (%d vs %d)", ErrInvalidParameters, len(red), len(nir))
	}
	out := make([]float64, len(red))
	for i := range red {
		r, n := red[i], nir[i]
		sum := n + r
		if r == nodata || n == nodata || sum == 0 || math.IsNaN(sum) {
			out[i] = nodata
			continue
		}
		v := (n - r) / sum
		switch {
		case math.IsNaN(v):
			out[i] = nodata
		case v > 1:
			out[i] = 1
		case v < -1:
			out[i] = -1
		default:
			out[i] = v
		}
	}
	return out, nil
}
