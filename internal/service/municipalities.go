package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/mdc-tools/parcel-insights/internal/arcgis"
	"github.com/mdc-tools/parcel-insights/internal/domain"
)

// Directory lists the county's municipal boundaries.
type Directory struct {
	exec   arcgis.Executor
	svc    arcgis.Service
	layer  int
	logger *slog.Logger
}

// NewDirectory creates a municipality directory over the boundary layer.
func NewDirectory(exec arcgis.Executor, svc arcgis.Service, layer int, logger *slog.Logger) *Directory {
	return &Directory{exec: exec, svc: svc, layer: layer, logger: logger}
}

// List returns all named boundaries sorted by name. Features without a
// name or geometry are skipped; only the first ring of each geometry is
// retained.
func (d *Directory) List(ctx context.Context) ([]domain.Municipality, error) {
	resp, err := d.exec.Query(ctx, d.svc, d.layer, arcgis.Params{
		"outFields":      "NAME",
		"returnGeometry": "true",
	})
	if err != nil {
		return nil, fmt.Errorf("municipal boundaries: %w", err)
	}

	items := make([]domain.Municipality, 0, len(resp.Features))
	for _, f := range resp.Features {
		name := firstNonEmpty(
			attrString(f.Attributes, "NAME"),
			attrString(f.Attributes, "Municipality"),
			attrString(f.Attributes, "municipality"),
		)
		if name == "" || len(f.Geometry) == 0 {
			continue
		}
		var geom struct {
			Rings []domain.Ring `json:"rings"`
		}
		if err := json.Unmarshal(f.Geometry, &geom); err != nil || len(geom.Rings) == 0 {
			d.logger.Debug("skipping boundary with unusable geometry", "name", name, "error", err)
			continue
		}
		items = append(items, domain.Municipality{Name: name, Rings: []domain.Ring{geom.Rings[0]}})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

// CheckReadiness reports whether the boundary service answers. The
// call rides the query cache, so probes stay cheap between TTLs.
func (d *Directory) CheckReadiness(ctx context.Context) error {
	_, err := d.List(ctx)
	return err
}

// Find returns the named boundary, matching case-insensitively, or
// domain.ErrNotFound.
func (d *Directory) Find(ctx context.Context, name string) (*domain.Municipality, error) {
	items, err := d.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if strings.EqualFold(items[i].Name, name) {
			return &items[i], nil
		}
	}
	return nil, domain.ErrNotFound
}
