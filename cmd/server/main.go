package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/mdc-tools/parcel-insights/internal/arcgis"
	"github.com/mdc-tools/parcel-insights/internal/config"
	"github.com/mdc-tools/parcel-insights/internal/httpapi"
	"github.com/mdc-tools/parcel-insights/internal/nominatim"
	"github.com/mdc-tools/parcel-insights/internal/observability"
	"github.com/mdc-tools/parcel-insights/internal/service"
)

func main() {
	// Best-effort .env for local development; env vars win.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	client := arcgis.NewClient(cfg.QueryTimeout, cfg.MaxRetries, metrics, logger)
	lookupCache := arcgis.NewCachedExecutor(client, cfg.LookupCacheTTL, clock, metrics)
	salesCache := arcgis.NewCachedExecutor(client, cfg.SalesCacheTTL, clock, metrics)
	fields := arcgis.NewFieldResolver(cfg.QueryTimeout, cfg.LookupCacheTTL, clock, logger)

	zoningSvc := arcgis.Service{Name: "zoning", URL: cfg.ZoningServiceURL}
	emapsSvc := arcgis.Service{Name: "emaps", URL: cfg.EmapsServiceURL}
	gisViewSvc := arcgis.Service{Name: "pagisview", URL: cfg.GISViewServiceURL}

	resolver := service.NewResolver(lookupCache, fields, service.Sources{
		Emaps:        emapsSvc,
		EmapsLayer:   cfg.PropertyRecordsLayer,
		GISView:      gisViewSvc,
		GISViewLayer: cfg.PropertyPointLayer,
	}, metrics, logger)

	area := service.NewAreaEngine(lookupCache, salesCache, service.AreaConfig{
		Zoning:      zoningSvc,
		ZoningLayer: cfg.ZoningLayer,
		Sales:       gisViewSvc,
		SalesLayer:  cfg.PropertyPointLayer,
		PageSize:    cfg.SalesPageSize,
		MaxRecords:  cfg.SalesMaxRecords,
	}, clock, metrics, logger)

	directory := service.NewDirectory(lookupCache, zoningSvc, cfg.MunicipalBoundaryLayer, logger)
	bulk := service.NewBulkResolver(resolver, cfg.BulkDelay, cfg.BulkMaxFolios, clock, metrics, logger)

	var geocoder nominatim.Geocoder
	if cfg.GeocoderEnabled {
		geocoder = nominatim.NewClient(cfg.NominatimURL, cfg.UserAgent, cfg.GeocoderTimeout, logger)
		logger.Info("address geocoding enabled", "endpoint", cfg.NominatimURL)
	} else {
		logger.Info("address geocoding disabled")
	}

	srv := httpapi.NewServer(cfg.HTTPAddr, resolver, area, directory, bulk, geocoder, directory, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}
