// Command coverage-cli runs green coverage analyses against local files
// without the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	json "github.com/goccy/go-json"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/analyzer"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/cache"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/cache/sqlstore"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/config"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/logger"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/mapper"
	h3mapper "github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/mapper/h3"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/refresh"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/store"
)

const usage = `usage: coverage-cli <command> [flags]

commands:
  compute       compute green coverage for a city from local files
  info          describe a boundary file
  validate-crs  compare the CRS of a boundary and a raster
  refresh       run a refresh over stored cities (all, or -city)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("dotenv: %v", err)
	}
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   true,
		Service:   "urban-green",
		Component: "coverage-cli",
	}, os.Stderr)
	lg := logger.NewSlog(&zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "compute":
		err = compute(ctx, cfg, lg, args, os.Stdout)
	case "info":
		err = info(cfg, lg, args, os.Stdout)
	case "validate-crs":
		err = validateCRS(cfg, lg, args, os.Stdout)
	case "refresh":
		err = runRefresh(ctx, cfg, lg, args, os.Stdout)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		lg.Error("command failed", "command", os.Args[1], "kind", analyzer.Classify(err).String(), "err", err)
		os.Exit(1)
	}
}

func newAnalyzer(cfg config.Config, lg *slog.Logger) *analyzer.Analyzer {
	var hex mapper.Interface
	if cfg.HexResolution > 0 {
		hex = h3mapper.New()
	}
	return analyzer.New(analyzer.Options{
		NameAttribute:  cfg.NameAttribute,
		AmbiguousMatch: analyzer.AmbiguityPolicy(cfg.AmbiguousMatch),
		HexResolution:  cfg.HexResolution,
	}, hex, lg)
}

func compute(ctx context.Context, cfg config.Config, lg *slog.Logger, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("compute", flag.ContinueOnError)
	boundary := fs.String("boundary", "", "boundary file (GeoJSON or shapefile)")
	raster := fs.String("raster", "", "multispectral GeoTIFF")
	city := fs.String("city", "", "city name to extract from the boundary file")
	threshold := fs.Float64("threshold", cfg.NDVIThreshold, "NDVI threshold for green pixels")
	attr := fs.String("attr", cfg.NameAttribute, "boundary attribute holding city names")
	red := fs.Int("red-band", 0, "red band index")
	nir := fs.Int("nir-band", 1, "near-infrared band index")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *boundary == "" || *raster == "" || *city == "" {
		return fmt.Errorf("%w: -boundary, -raster and -city are required", analyzer.ErrInvalidParameters)
	}
	pool := analyzer.NewPool(newAnalyzer(cfg, lg), 1)
	res, err := pool.Run(ctx, analyzer.Request{
		BoundaryPath:  *boundary,
		RasterPath:    *raster,
		CityName:      *city,
		Threshold:     *threshold,
		NameAttribute: *attr,
		RedBand:       *red,
		NIRBand:       *nir,
	})
	if err != nil {
		return err
	}
	return printJSON(out, res)
}

func info(cfg config.Config, lg *slog.Logger, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	boundary := fs.String("boundary", "", "boundary file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *boundary == "" {
		return fmt.Errorf("%w: -boundary is required", analyzer.ErrInvalidParameters)
	}
	bi, err := newAnalyzer(cfg, lg).BoundaryInfo(*boundary)
	if err != nil {
		return err
	}
	return printJSON(out, bi)
}

func validateCRS(cfg config.Config, lg *slog.Logger, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("validate-crs", flag.ContinueOnError)
	boundary := fs.String("boundary", "", "boundary file")
	raster := fs.String("raster", "", "GeoTIFF")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *boundary == "" || *raster == "" {
		return fmt.Errorf("%w: -boundary and -raster are required", analyzer.ErrInvalidParameters)
	}
	chk, err := newAnalyzer(cfg, lg).ValidateCRS(*boundary, *raster)
	if err != nil {
		return err
	}
	return printJSON(out, chk)
}

func runRefresh(ctx context.Context, cfg config.Config, lg *slog.Logger, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("refresh", flag.ContinueOnError)
	city := fs.String("city", "", "refresh a single city by name or id")
	db := fs.String("db", cfg.DatabasePath, "SQLite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	st, err := store.Open(ctx, *db, lg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	cacheSvc := cache.New(sqlstore.New(st.DB()), cache.Options{Logger: lg})
	ref := refresh.New(refresh.Config{
		Threshold:     cfg.NDVIThreshold,
		NameAttribute: cfg.NameAttribute,
		BatchSize:     cfg.BatchSize,
		BatchPause:    cfg.BatchPause,
		StaleAfter:    cfg.StaleAfter,
	}, st, analyzer.NewPool(newAnalyzer(cfg, lg), cfg.AnalyzerWorkers), cacheSvc, refresh.DataFinder{
		SatelliteDir:     cfg.SatelliteDataDir,
		BoundaryDir:      cfg.ShapefileDir,
		RegionalFallback: cfg.RegionalFallback,
	}, refresh.WithLogger(lg))

	var sum refresh.RunSummary
	if *city != "" {
		sum, err = ref.TriggerManual(ctx, *city)
	} else {
		sum, err = ref.RunScheduled(ctx)
	}
	if err != nil {
		return err
	}
	return printJSON(out, sum)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
