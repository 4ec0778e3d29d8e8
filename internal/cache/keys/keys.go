// Package keys derives cache keys from the semantic parameters of a
// calculation. Keys are stable across processes and independent of map order.
package keys

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const chunkSize = 64 << 10

// Derive hashes the sorted key=value pairs of params. Floats use the shortest
// representation that round-trips.
func Derive(params map[string]any) string {
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)

	h := xxhash.New()
	for _, k := range names {
		_, _ = h.WriteString(k)
		_, _ = h.WriteString("=")
		_, _ = h.WriteString(formatValue(params[k]))
		_, _ = h.WriteString(";")
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

// SatelliteParams are the inputs that decide a satellite coverage result.
// Files enter by content digest, never by path.
type SatelliteParams struct {
	City           string
	Threshold      float64
	NameAttribute  string
	RedBand        int
	NIRBand        int
	Year           int
	BoundaryDigest string
	RasterDigest   string
}

func Satellite(p SatelliteParams) string {
	return Derive(map[string]any{
		"operation":       "satellite_coverage",
		"city":            NormalizeCity(p.City),
		"threshold":       p.Threshold,
		"name_attribute":  p.NameAttribute,
		"red_band":        p.RedBand,
		"nir_band":        p.NIRBand,
		"year":            p.Year,
		"boundary_digest": p.BoundaryDigest,
		"raster_digest":   p.RasterDigest,
	})
}

func CityStats(cityID int64) string {
	return Derive(map[string]any{"city_id": cityID, "operation": "city_stats"})
}

func Comparison(city string) string {
	return Derive(map[string]any{"city": NormalizeCity(city), "operation": "coverage_comparison"})
}

// NormalizeCity lowercases and collapses whitespace so that spelling variants
// of one city name share keys.
func NormalizeCity(s string) string {
	return strings.ToLower(collapseASCIIWhitespace(s))
}

// FileDigest hashes the file's bytes in fixed-size chunks. An unreadable file
// falls back to a digest of its path so callers always get a key.
func FileDigest(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return pathDigest(path)
	}
	defer func() { _ = f.Close() }()

	d := NewDigest()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(d, f, buf); err != nil {
		return pathDigest(path)
	}
	return d.Sum()
}

func pathDigest(path string) string {
	return fmt.Sprintf("path-%016x", xxhash.Sum64String(path))
}

// Digest is an io.Writer that hashes content while it streams, so an upload
// can be digested as it is written to disk.
type Digest struct {
	h *xxhash.Digest
	n int64
}

func NewDigest() *Digest { return &Digest{h: xxhash.New()} }

func (d *Digest) Write(p []byte) (int, error) {
	d.n += int64(len(p))
	return d.h.Write(p)
}

// Size is the number of bytes hashed so far.
func (d *Digest) Size() int64 { return d.n }

// Sum returns the digest of the bytes written so far. For a single file's
// bytes it equals FileDigest of that file.
func (d *Digest) Sum() string { return fmt.Sprintf("%016x", d.h.Sum64()) }

// CombineDigests hashes named part digests in name order, so a set of files
// keys the same regardless of the order they arrived in.
func CombineDigests(parts map[string]string) string {
	names := make([]string, 0, len(parts))
	for k := range parts {
		names = append(names, k)
	}
	sort.Strings(names)
	h := xxhash.New()
	for _, k := range names {
		_, _ = h.WriteString(k)
		_, _ = h.WriteString("=")
		_, _ = h.WriteString(parts[k])
		_, _ = h.WriteString(";")
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// converts any run of ASCII whitespace to a single space.
func collapseASCIIWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	wasWS := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f' {
			if !wasWS {
				b.WriteByte(' ')
				wasWS = true
			}
			continue
		}
		b.WriteRune(r)
		wasWS = false
	}
	return strings.TrimSpace(b.String())
}
