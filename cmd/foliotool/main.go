// foliotool runs a bulk folio lookup from the command line and writes
// the result table as CSV on stdout.
//
// Usage:
//
//	foliotool 01-3125-046-0340 3530070191100
//	foliotool -file folios.txt
//	cat folios.txt | foliotool
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/mdc-tools/parcel-insights/internal/arcgis"
	"github.com/mdc-tools/parcel-insights/internal/config"
	"github.com/mdc-tools/parcel-insights/internal/domain"
	"github.com/mdc-tools/parcel-insights/internal/observability"
	"github.com/mdc-tools/parcel-insights/internal/service"
)

func main() {
	file := flag.String("file", "", "file with folios, one per line (default: args, then stdin)")
	preferHosted := flag.Bool("prefer-hosted", false, "try the hosted FeatureServer before the county MapServer")
	flag.Parse()

	if err := run(*file, flag.Args(), !*preferHosted); err != nil {
		fmt.Fprintln(os.Stderr, "foliotool:", err)
		os.Exit(1)
	}
}

func run(file string, args []string, preferCounty bool) error {
	text, err := gatherInput(file, args)
	if err != nil {
		return err
	}
	folios := domain.ParseBulk(text)
	if len(folios) == 0 {
		return fmt.Errorf("no folios found in input")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	client := arcgis.NewClient(cfg.QueryTimeout, cfg.MaxRetries, metrics, logger)
	cache := arcgis.NewCachedExecutor(client, cfg.LookupCacheTTL, clock, metrics)
	fields := arcgis.NewFieldResolver(cfg.QueryTimeout, cfg.LookupCacheTTL, clock, logger)

	resolver := service.NewResolver(cache, fields, service.Sources{
		Emaps:        arcgis.Service{Name: "emaps", URL: cfg.EmapsServiceURL},
		EmapsLayer:   cfg.PropertyRecordsLayer,
		GISView:      arcgis.Service{Name: "pagisview", URL: cfg.GISViewServiceURL},
		GISViewLayer: cfg.PropertyPointLayer,
	}, metrics, logger)
	bulk := service.NewBulkResolver(resolver, cfg.BulkDelay, 0, clock, metrics, logger)

	rows := bulk.ResolveAll(context.Background(), folios, preferCounty)
	return writeCSV(os.Stdout, rows)
}

func gatherInput(file string, args []string) (string, error) {
	if file != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", file, err)
		}
		return string(b), nil
	}
	if len(args) > 0 {
		return strings.Join(args, "\n"), nil
	}
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(b), nil
}

func writeCSV(w io.Writer, rows []domain.BulkRow) error {
	cw := csv.NewWriter(w)
	header := []string{
		"Folio", "Status", "Property Address", "City", "ZIP", "Owner 1", "Owner 2",
		"Primary Land Use", "Year Built", "Source", "Query", "Detail",
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		rec := domain.PropertyRecord{}
		if row.Record != nil {
			rec = *row.Record
		}
		year := ""
		if rec.YearBuilt != nil {
			year = strconv.FormatFloat(*rec.YearBuilt, 'f', -1, 64)
		}
		out := []string{
			row.Folio, string(row.Status), rec.SiteAddress, rec.City, rec.ZipCode,
			rec.Owner1, rec.Owner2, rec.LandUse, year, row.Source, row.WhereUsed, row.Detail,
		}
		if err := cw.Write(out); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
