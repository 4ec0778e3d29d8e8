package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/analyzer"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/cache/keys"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/geo/raster"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/geo/vector"
)

const maxFieldBytes = 64 << 10

// shapefile companions that may be uploaded next to a .shp
var sidecars = map[string]bool{".dbf": true, ".shx": true, ".prj": true, ".cpg": true}

// upload is a multipart request spooled to a private temp directory. Files are
// hashed while they are written so the cache key never needs a second read.
type upload struct {
	dir    string
	fields map[string]string

	boundary       string
	boundaryDigest string
	raster         string
	rasterDigest   string
}

func (u *upload) cleanup() {
	if u != nil && u.dir != "" {
		_ = os.RemoveAll(u.dir)
	}
}

// receive streams the parts named "boundary" (repeatable for shapefile
// companions) and "raster" to disk; every other part is a form field.
func receive(w http.ResponseWriter, r *http.Request, tempDir string, maxBytes int64) (*upload, error) {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: expected multipart/form-data: %v", analyzer.ErrInvalidParameters, err)
	}
	if tempDir != "" {
		if err := os.MkdirAll(tempDir, 0o755); err != nil {
			return nil, fmt.Errorf("create temp dir: %w", err)
		}
	}
	dir, err := os.MkdirTemp(tempDir, "upload-")
	if err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	u := &upload{dir: dir, fields: map[string]string{}}
	bd := map[string]string{}
	var rd *keys.Digest

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			u.cleanup()
			if err = readError(err); !errors.Is(err, errTooLarge) {
				err = fmt.Errorf("%w: malformed multipart body: %v", analyzer.ErrInvalidParameters, err)
			}
			return nil, err
		}
		switch name := part.FormName(); {
		case name == "boundary" && part.FileName() != "":
			err = u.saveBoundary(part, bd)
		case name == "raster" && part.FileName() != "":
			if u.raster != "" {
				err = fmt.Errorf("%w: only one raster file is accepted", analyzer.ErrInvalidParameters)
				break
			}
			rd = keys.NewDigest()
			u.raster, err = u.save(part, "raster", raster.Supported, rd)
		default:
			var b []byte
			b, err = io.ReadAll(io.LimitReader(part, maxFieldBytes+1))
			if err == nil && len(b) > maxFieldBytes {
				err = fmt.Errorf("%w: field %q too large", analyzer.ErrInvalidParameters, name)
			}
			u.fields[name] = string(b)
		}
		_ = part.Close()
		if err != nil {
			u.cleanup()
			return nil, readError(err)
		}
	}

	if u.boundary != "" {
		u.boundaryDigest = keys.CombineDigests(bd)
	}
	if rd != nil {
		u.rasterDigest = rd.Sum()
	}
	return u, nil
}

// saveBoundary stores the main boundary file or one of its sidecars and
// records the part's digest under its extension.
func (u *upload) saveBoundary(part *multipart.Part, digests map[string]string) error {
	ext := strings.ToLower(filepath.Ext(part.FileName()))
	d := keys.NewDigest()
	if sidecars[ext] {
		if _, err := u.save(part, "boundary", func(string) bool { return true }, d); err != nil {
			return err
		}
		digests[ext] = d.Sum()
		return nil
	}
	if u.boundary != "" {
		return fmt.Errorf("%w: only one boundary file is accepted", analyzer.ErrInvalidParameters)
	}
	p, err := u.save(part, "boundary", vector.Supported, d)
	if err != nil {
		return err
	}
	u.boundary = p
	digests[ext] = d.Sum()
	return nil
}

// save writes part to <dir>/<base><ext>; the client's file name is used only
// for its extension.
func (u *upload) save(part *multipart.Part, base string, ok func(string) bool, d *keys.Digest) (string, error) {
	ext := strings.ToLower(filepath.Ext(part.FileName()))
	if ext == "" || !ok(base+ext) {
		return "", fmt.Errorf("%w: %s file %q", analyzer.ErrUnsupportedFormat, base, part.FileName())
	}
	p := filepath.Join(u.dir, base+ext)
	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: duplicate %s file %q", analyzer.ErrInvalidParameters, base, ext)
		}
		return "", err
	}
	if _, err := io.Copy(io.MultiWriter(f, d), part); err != nil {
		_ = f.Close()
		return "", err
	}
	return p, f.Close()
}

var errTooLarge = errors.New("request body too large")

func readError(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return fmt.Errorf("%w: limit is %d bytes", errTooLarge, mbe.Limit)
	}
	return err
}
