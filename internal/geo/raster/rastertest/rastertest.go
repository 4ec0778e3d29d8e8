// Package rastertest writes small uncompressed GeoTIFFs for tests.
package rastertest

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"testing"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/geo"
)

type Spec struct {
	Width, Height int
	// Bands are row-major and written as float32 samples.
	Bands     [][]float64
	Transform geo.Affine
	EPSG      int
	Projected bool
	NoData    *float64
	Planar    bool
}

type entry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

// Write encodes s as a little-endian GeoTIFF at dir/name and returns the path.
func Write(t testing.TB, dir, name string, s Spec) string {
	t.Helper()
	b, err := Encode(s)
	if err != nil {
		t.Fatalf("rastertest: encode: %v", err)
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, b, 0o600); err != nil {
		t.Fatalf("rastertest: write %s: %v", p, err)
	}
	return p
}

func Encode(s Spec) ([]byte, error) {
	le := binary.LittleEndian
	spp := len(s.Bands)
	n := s.Width * s.Height

	var pix bytes.Buffer
	if s.Planar {
		for _, band := range s.Bands {
			for i := 0; i < n; i++ {
				_ = binary.Write(&pix, le, float32(band[i]))
			}
		}
	} else {
		for i := 0; i < n; i++ {
			for _, band := range s.Bands {
				_ = binary.Write(&pix, le, float32(band[i]))
			}
		}
	}

	shorts := func(v ...uint16) []byte {
		b := make([]byte, 2*len(v))
		for i, x := range v {
			le.PutUint16(b[2*i:], x)
		}
		return b
	}
	longs := func(v ...uint32) []byte {
		b := make([]byte, 4*len(v))
		for i, x := range v {
			le.PutUint32(b[4*i:], x)
		}
		return b
	}
	doubles := func(v ...float64) []byte {
		b := make([]byte, 8*len(v))
		for i, x := range v {
			le.PutUint64(b[8*i:], math.Float64bits(x))
		}
		return b
	}

	bits := make([]uint16, spp)
	formats := make([]uint16, spp)
	for i := range bits {
		bits[i], formats[i] = 32, 3
	}
	planar := uint16(1)
	strips := 1
	if s.Planar {
		planar = 2
		strips = spp
	}
	planeBytes := uint32(n * 4)
	if !s.Planar {
		planeBytes *= uint32(spp)
	}

	entries := []entry{
		{256, 4, 1, longs(uint32(s.Width))},
		{257, 4, 1, longs(uint32(s.Height))},
		{258, 3, uint32(spp), shorts(bits...)},
		{259, 3, 1, shorts(1)},
		{262, 3, 1, shorts(1)},
		{277, 3, 1, shorts(uint16(spp))},
		{278, 4, 1, longs(uint32(s.Height))},
		{284, 3, 1, shorts(planar)},
		{339, 3, uint32(spp), shorts(formats...)},
	}
	// strip offsets are patched once the layout is known
	counts := make([]uint32, strips)
	for i := range counts {
		counts[i] = planeBytes
	}
	entries = append(entries,
		entry{273, 4, uint32(strips), make([]byte, 4*strips)},
		entry{279, 4, uint32(strips), longs(counts...)},
	)

	if !s.Transform.IsZero() {
		tr := s.Transform
		entries = append(entries,
			entry{33550, 12, 3, doubles(tr.A, -tr.E, 0)},
			entry{33922, 12, 6, doubles(0, 0, 0, tr.C, tr.F, 0)},
		)
	}
	if s.EPSG != 0 {
		key := uint16(2048)
		model := uint16(2)
		if s.Projected {
			key, model = 3072, 1
		}
		entries = append(entries, entry{34735, 3, 12, shorts(1, 1, 0, 2, 1024, 0, 1, model, key, 0, 1, uint16(s.EPSG))})
	}
	if s.NoData != nil {
		v := strconv.FormatFloat(*s.NoData, 'g', -1, 64) + "\x00"
		entries = append(entries, entry{42113, 2, uint32(len(v)), []byte(v)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	ifdSize := 2 + 12*len(entries) + 4
	dataStart := 8 + ifdSize
	extra := 0
	for _, e := range entries {
		if len(e.data) > 4 {
			extra += len(e.data) + len(e.data)%2
		}
	}
	pixStart := dataStart + extra
	for i := range entries {
		if entries[i].tag == 273 {
			offs := make([]uint32, strips)
			for k := range offs {
				offs[k] = uint32(pixStart) + uint32(k)*planeBytes
			}
			entries[i].data = longs(offs...)
		}
	}

	var out bytes.Buffer
	out.WriteString("II")
	_ = binary.Write(&out, le, uint16(42))
	_ = binary.Write(&out, le, uint32(8))
	_ = binary.Write(&out, le, uint16(len(entries)))

	var tail bytes.Buffer
	next := uint32(dataStart)
	for _, e := range entries {
		_ = binary.Write(&out, le, e.tag)
		_ = binary.Write(&out, le, e.typ)
		_ = binary.Write(&out, le, e.count)
		if len(e.data) <= 4 {
			v := make([]byte, 4)
			copy(v, e.data)
			out.Write(v)
			continue
		}
		_ = binary.Write(&out, le, next)
		tail.Write(e.data)
		if len(e.data)%2 == 1 {
			tail.WriteByte(0)
		}
		next += uint32(len(e.data) + len(e.data)%2)
	}
	_ = binary.Write(&out, le, uint32(0))
	out.Write(tail.Bytes())
	out.Write(pix.Bytes())
	return out.Bytes(), nil
}

// Fill returns a band of n copies of v.
func Fill(n int, v float64) []float64 {
	b := make([]float64, n)
	for i := range b {
		b[i] = v
	}
	return b
}
