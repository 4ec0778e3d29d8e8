package analyzer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/geo"
)

var (
	ErrUnsupportedFormat = geo.ErrUnsupportedFormat
	ErrNotFound          = geo.ErrNotFound
	ErrFeatureNotFound   = errors.New("feature not found")
	ErrAmbiguousFeature  = errors.New("feature name matches more than one feature")
	ErrInsufficientBands = errors.New("insufficient raster bands")
	ErrNoValidPixels     = errors.New("no valid pixels in raster")
	ErrInvalidParameters = errors.New("invalid analysis parameters")
)

// MaxCandidates bounds the names listed by FeatureNotFoundError.
const MaxCandidates = 10

type FeatureNotFoundError struct {
	Name       string
	Attribute  string
	Candidates []string
}

func (e *FeatureNotFoundError) Error() string {
	return fmt.Sprintf("feature %q not found in attribute %q (candidates: %s)",
		e.Name, e.Attribute, strings.Join(e.Candidates, ", "))
}

func (e *FeatureNotFoundError) Is(target error) bool { return target == ErrFeatureNotFound }

// CalculationError wraps any failure of a full pipeline run.
type CalculationError struct {
	City         string
	BoundaryPath string
	RasterPath   string
	Err          error
}

func (e *CalculationError) Error() string {
	return fmt.Sprintf("coverage calculation failed for %q: %v", e.City, e.Err)
}

func (e *CalculationError) Unwrap() error { return e.Err }

type Kind int

const (
	KindSystem Kind = iota
	KindInput
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindData:
		return "data"
	default:
		return "system"
	}
}

// Classify maps an error to who caused it: the caller, the file contents, or
// the service itself.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindSystem
	case errors.Is(err, ErrUnsupportedFormat),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidParameters):
		return KindInput
	case errors.Is(err, ErrFeatureNotFound),
		errors.Is(err, ErrAmbiguousFeature),
		errors.Is(err, ErrInsufficientBands),
		errors.Is(err, ErrNoValidPixels):
		return KindData
	}
	var ce *CalculationError
	if errors.As(err, &ce) {
		// unreadable or malformed file contents
		return KindData
	}
	return KindSystem
}
