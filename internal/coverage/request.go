package coverage

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/analyzer"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// SatelliteRequest is one coverage computation over a boundary file and a
// raster. Optional numeric fields are pointers so an explicit zero band index
// is told apart from an omitted one.
type SatelliteRequest struct {
	CityName      string   `json:"city_name" validate:"required,max=200"`
	Threshold     *float64 `json:"ndvi_threshold,omitempty" validate:"omitempty,gte=0,lte=1"`
	NameAttribute string   `json:"name_column,omitempty" validate:"omitempty,max=64"`
	RedBand       *int     `json:"red_band_idx,omitempty" validate:"omitempty,gte=0,lte=64"`
	NIRBand       *int     `json:"nir_band_idx,omitempty" validate:"omitempty,gte=0,lte=64"`
	Year          int      `json:"year" validate:"required,gte=1900,lte=2100"`

	SaveToDatabase bool `json:"save_to_database,omitempty"`

	BoundaryPath string `json:"-" validate:"required"`
	RasterPath   string `json:"-" validate:"required"`
	// Digests computed while the files were received; empty means hash the
	// files on disk.
	BoundaryDigest string `json:"-"`
	RasterDigest   string `json:"-"`
}

func (r SatelliteRequest) threshold(def float64) float64 {
	if r.Threshold != nil {
		return *r.Threshold
	}
	return def
}

func (r SatelliteRequest) bands() (red, nir int) {
	red, nir = 0, 1
	if r.RedBand != nil {
		red = *r.RedBand
	}
	if r.NIRBand != nil {
		nir = *r.NIRBand
	}
	return red, nir
}

// Validate reports every invalid field at once, wrapped in
// analyzer.ErrInvalidParameters.
func (r SatelliteRequest) Validate() error {
	r.CityName = strings.TrimSpace(r.CityName)
	if err := validatorInstance().Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", analyzer.ErrInvalidParameters, err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fieldMessage(fe))
		}
		return fmt.Errorf("%w: %s", analyzer.ErrInvalidParameters, strings.Join(msgs, "; "))
	}
	red, nir := r.bands()
	if red == nir {
		return fmt.Errorf("%w: red and nir band indexes must differ", analyzer.ErrInvalidParameters)
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "lte", "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
}
