package raster

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"strconv"
	"strings"

	"golang.org/x/image/tiff"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/geo"
)

// TIFF and GeoTIFF tags read by the decoder.
const (
	tagImageWidth          = 256
	tagImageLength         = 257
	tagBitsPerSample       = 258
	tagCompression         = 259
	tagStripOffsets        = 273
	tagSamplesPerPixel     = 277
	tagRowsPerStrip        = 278
	tagStripByteCounts     = 279
	tagPlanarConfiguration = 284
	tagTileWidth           = 322
	tagSampleFormat        = 339
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
	tagGDALNoData          = 42113
)

const (
	geoKeyGeographicType = 2048
	geoKeyProjectedType  = 3072
	geoKeyUserDefined    = 32767
)

const (
	sampleUint  = 1
	sampleInt   = 2
	sampleFloat = 3
)

// maxSamples caps width*height*bands of one raster, about 2 GiB once
// decoded to float64.
const maxSamples = 1 << 28

var errBigTIFF = errors.New("BigTIFF is not supported")

type ifdEntry struct {
	typ   uint16
	count uint32
	data  []byte
}

type tiffFile struct {
	raw     []byte
	order   binary.ByteOrder
	entries map[uint16]ifdEntry
}

var typeSize = map[uint16]int{
	1: 1, 2: 1, 3: 2, 4: 4, 5: 8, 6: 1, 7: 1, 8: 2, 9: 4, 10: 8, 11: 4, 12: 8, 16: 8,
}

func parseTIFF(raw []byte) (*tiffFile, error) {
	if len(raw) < 8 {
		return nil, errors.New("file too short for a TIFF header")
	}
	var order binary.ByteOrder
	switch string(raw[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, errors.New("missing TIFF byte order mark")
	}
	switch order.Uint16(raw[2:4]) {
	case 42:
	case 43:
		return nil, errBigTIFF
	default:
		return nil, errors.New("bad TIFF magic number")
	}

	off := int(order.Uint32(raw[4:8]))
	if off+2 > len(raw) {
		return nil, errors.New("IFD offset out of range")
	}
	n := int(order.Uint16(raw[off : off+2]))
	if off+2+12*n > len(raw) {
		return nil, errors.New("IFD truncated")
	}

	tf := &tiffFile{raw: raw, order: order, entries: make(map[uint16]ifdEntry, n)}
	for i := 0; i < n; i++ {
		e := raw[off+2+12*i : off+14+12*i]
		tag := order.Uint16(e[0:2])
		typ := order.Uint16(e[2:4])
		count := order.Uint32(e[4:8])
		size, ok := typeSize[typ]
		if !ok {
			continue
		}
		total := int(count) * size
		var data []byte
		if total <= 4 {
			data = e[8 : 8+total]
		} else {
			p := int(order.Uint32(e[8:12]))
			if p < 0 || p+total > len(raw) {
				return nil, fmt.Errorf("tag %d data out of range", tag)
			}
			data = raw[p : p+total]
		}
		tf.entries[tag] = ifdEntry{typ: typ, count: count, data: data}
	}
	return tf, nil
}

func (tf *tiffFile) has(tag uint16) bool {
	_, ok := tf.entries[tag]
	return ok
}

// uints reads an integer-valued tag of any unsigned width.
func (tf *tiffFile) uints(tag uint16) []uint64 {
	e, ok := tf.entries[tag]
	if !ok {
		return nil
	}
	out := make([]uint64, e.count)
	for i := range out {
		switch e.typ {
		case 1, 7:
			out[i] = uint64(e.data[i])
		case 3:
			out[i] = uint64(tf.order.Uint16(e.data[2*i:]))
		case 4:
			out[i] = uint64(tf.order.Uint32(e.data[4*i:]))
		case 16:
			out[i] = tf.order.Uint64(e.data[8*i:])
		default:
			return nil
		}
	}
	return out
}

func (tf *tiffFile) uint(tag uint16, def uint64) uint64 {
	v := tf.uints(tag)
	if len(v) == 0 {
		return def
	}
	return v[0]
}

func (tf *tiffFile) doubles(tag uint16) []float64 {
	e, ok := tf.entries[tag]
	if !ok || e.typ != 12 {
		return nil
	}
	out := make([]float64, e.count)
	for i := range out {
		out[i] = math.Float64frombits(tf.order.Uint64(e.data[8*i:]))
	}
	return out
}

func (tf *tiffFile) ascii(tag uint16) string {
	e, ok := tf.entries[tag]
	if !ok || e.typ != 2 {
		return ""
	}
	return strings.TrimRight(string(e.data), "\x00 ")
}

// transform derives the pixel-to-CRS affine from ModelTransformation or
// from a tiepoint plus pixel scale.
func (tf *tiffFile) transform() geo.Affine {
	if m := tf.doubles(tagModelTransformation); len(m) >= 16 {
		return geo.Affine{A: m[0], B: m[1], C: m[3], D: m[4], E: m[5], F: m[7]}
	}
	tp := tf.doubles(tagModelTiepoint)
	sc := tf.doubles(tagModelPixelScale)
	if len(tp) >= 6 && len(sc) >= 2 {
		i, j, x, y := tp[0], tp[1], tp[3], tp[4]
		return geo.Affine{A: sc[0], C: x - i*sc[0], E: -sc[1], F: y + j*sc[1]}
	}
	// ungeoreferenced: pixel space with rows growing downward
	return geo.Affine{A: 1, E: 1}
}

func (tf *tiffFile) crs() string {
	keys := tf.uints(tagGeoKeyDirectory)
	if len(keys) < 4 {
		return ""
	}
	var geographic, projected uint64
	n := int(keys[3])
	for i := 0; i < n && 4+4*i+3 < len(keys); i++ {
		id, loc, val := keys[4+4*i], keys[4+4*i+1], keys[4+4*i+3]
		if loc != 0 {
			continue
		}
		switch id {
		case geoKeyProjectedType:
			projected = val
		case geoKeyGeographicType:
			geographic = val
		}
	}
	switch {
	case projected != 0 && projected != geoKeyUserDefined:
		return "EPSG:" + strconv.FormatUint(projected, 10)
	case geographic != 0 && geographic != geoKeyUserDefined:
		return "EPSG:" + strconv.FormatUint(geographic, 10)
	}
	return ""
}

func (tf *tiffFile) nodata() *float64 {
	s := tf.ascii(tagGDALNoData)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return &v
}

func decodeGeoTIFF(path string) (*Image, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	tf, err := parseTIFF(raw)
	if err != nil {
		return nil, err
	}

	im := &Image{
		Width:     int(tf.uint(tagImageWidth, 0)),
		Height:    int(tf.uint(tagImageLength, 0)),
		Transform: tf.transform(),
		CRS:       tf.crs(),
		NoData:    tf.nodata(),
		Format:    "GTiff",
	}
	spp := int(tf.uint(tagSamplesPerPixel, 1))
	if _, err := sampleCount(im.Width, im.Height, spp); err != nil {
		return nil, err
	}
	bits, format := tf.sampleType()
	im.Float32 = format == sampleFloat && bits == 32

	if tf.uint(tagCompression, 1) == 1 && !tf.has(tagTileWidth) {
		im.Bands, err = tf.decodeStrips(im.Width, im.Height)
	} else {
		im.Bands, err = decodeWithImageTIFF(raw, spp)
	}
	if err != nil {
		return nil, err
	}
	return im, nil
}

// sampleCount returns w*h*spp, rejecting sizes over maxSamples without
// overflowing.
func sampleCount(w, h, spp int) (int, error) {
	if w <= 0 || h <= 0 || spp <= 0 {
		return 0, fmt.Errorf("%w: dimensions %dx%d with %d samples per pixel", ErrInvalidRaster, w, h, spp)
	}
	if w > maxSamples/h || w*h > maxSamples/spp {
		return 0, fmt.Errorf("%w: %dx%d with %d bands exceeds %d samples", ErrInvalidRaster, w, h, spp, maxSamples)
	}
	return w * h * spp, nil
}

// sampleType reports the first BitsPerSample value and the SampleFormat.
func (tf *tiffFile) sampleType() (bits, format int) {
	bits = 1
	if bps := tf.uints(tagBitsPerSample); len(bps) > 0 {
		bits = int(min(bps[0], 64))
	}
	return bits, int(tf.uint(tagSampleFormat, sampleUint))
}

// decodeStrips reads uncompressed strip data of any sample type and count.
func (tf *tiffFile) decodeStrips(w, h int) ([][]float64, error) {
	spp := int(tf.uint(tagSamplesPerPixel, 1))
	n, err := sampleCount(w, h, spp)
	if err != nil {
		return nil, err
	}
	bps := tf.uints(tagBitsPerSample)
	if len(bps) == 0 {
		bps = []uint64{1}
	}
	bits := int(bps[0])
	for _, b := range bps {
		if int(b) != bits {
			return nil, errors.New("mixed bits per sample are not supported")
		}
	}
	format := int(tf.uint(tagSampleFormat, sampleUint))
	if err := checkSampleType(bits, format); err != nil {
		return nil, err
	}
	planar := tf.uint(tagPlanarConfiguration, 1) == 2

	offsets := tf.uints(tagStripOffsets)
	counts := tf.uints(tagStripByteCounts)
	if len(offsets) == 0 || len(offsets) != len(counts) {
		return nil, errors.New("missing or inconsistent strip tables")
	}

	planes := 1
	if planar {
		planes = spp
	}
	if len(offsets)%planes != 0 {
		return nil, errors.New("strip count does not divide into sample planes")
	}
	perPlane := len(offsets) / planes

	var stripBytes uint64
	for s, c := range counts {
		if offsets[s] > uint64(len(tf.raw)) || c > uint64(len(tf.raw))-offsets[s] {
			return nil, fmt.Errorf("%w: strip %d out of range", ErrInvalidRaster, s)
		}
		stripBytes += c
	}
	bytesPer := bits / 8
	if need := uint64(n) * uint64(bytesPer); need > stripBytes {
		return nil, fmt.Errorf("%w: pixel data needs %d bytes, strips hold %d", ErrInvalidRaster, need, stripBytes)
	}

	bands := make([][]float64, spp)
	for b := range bands {
		bands[b] = make([]float64, w*h)
	}

	for p := 0; p < planes; p++ {
		var buf bytes.Buffer
		for s := p * perPlane; s < (p+1)*perPlane; s++ {
			o, c := int(offsets[s]), int(counts[s])
			buf.Write(tf.raw[o : o+c])
		}
		data := buf.Bytes()
		if planar {
			if len(data) < w*h*bytesPer {
				return nil, fmt.Errorf("plane %d truncated", p)
			}
			for i := 0; i < w*h; i++ {
				bands[p][i] = readSample(data[i*bytesPer:], tf.order, bits, format)
			}
			continue
		}
		if len(data) < w*h*spp*bytesPer {
			return nil, errors.New("pixel data truncated")
		}
		for i := 0; i < w*h; i++ {
			for b := 0; b < spp; b++ {
				bands[b][i] = readSample(data[(i*spp+b)*bytesPer:], tf.order, bits, format)
			}
		}
	}
	return bands, nil
}

func checkSampleType(bits, format int) error {
	switch format {
	case sampleUint, sampleInt:
		switch bits {
		case 8, 16, 32:
			return nil
		}
	case sampleFloat:
		switch bits {
		case 32, 64:
			return nil
		}
	}
	return fmt.Errorf("unsupported sample type: %d bits, format %d", bits, format)
}

func readSample(b []byte, order binary.ByteOrder, bits, format int) float64 {
	switch format {
	case sampleFloat:
		if bits == 32 {
			return float64(math.Float32frombits(order.Uint32(b)))
		}
		return math.Float64frombits(order.Uint64(b))
	case sampleInt:
		switch bits {
		case 8:
			return float64(int8(b[0]))
		case 16:
			return float64(int16(order.Uint16(b)))
		default:
			return float64(int32(order.Uint32(b)))
		}
	default:
		switch bits {
		case 8:
			return float64(b[0])
		case 16:
			return float64(order.Uint16(b))
		default:
			return float64(order.Uint32(b))
		}
	}
}

// decodeWithImageTIFF handles compressed or tiled integer images.
func decodeWithImageTIFF(raw []byte, spp int) ([][]float64, error) {
	img, err := tiff.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode tiff: %w", err)
	}
	r := img.Bounds()
	w, h := r.Dx(), r.Dy()

	switch g := img.(type) {
	case *image.Gray:
		band := make([]float64, w*h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				band[y*w+x] = float64(g.GrayAt(r.Min.X+x, r.Min.Y+y).Y)
			}
		}
		return [][]float64{band}, nil
	case *image.Gray16:
		band := make([]float64, w*h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				band[y*w+x] = float64(g.Gray16At(r.Min.X+x, r.Min.Y+y).Y)
			}
		}
		return [][]float64{band}, nil
	}

	if spp < 3 {
		spp = 3
	}
	if spp > 4 {
		return nil, fmt.Errorf("compressed images with %d samples are not supported", spp)
	}
	wide := false
	switch img.(type) {
	case *image.RGBA64, *image.NRGBA64:
		wide = true
	}
	bands := make([][]float64, spp)
	for b := range bands {
		bands[b] = make([]float64, w*h)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA64Model.Convert(img.At(r.Min.X+x, r.Min.Y+y)).(color.NRGBA64)
			vals := [4]uint16{c.R, c.G, c.B, c.A}
			for b := 0; b < spp; b++ {
				v := vals[b]
				if !wide {
					v >>= 8
				}
				bands[b][y*w+x] = float64(v)
			}
		}
	}
	return bands, nil
}
