package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mdc-tools/parcel-insights/internal/domain"
	"github.com/mdc-tools/parcel-insights/internal/observability"
)

// BulkResolver drives the property resolver over a folio list. Items
// run sequentially with a small delay between remote lookups: the
// backing services are shared and rate-limited, so politeness beats
// throughput here.
type BulkResolver struct {
	resolver *Resolver
	delay    time.Duration
	maxItems int
	clock    clockwork.Clock
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewBulkResolver creates a bulk resolver. maxItems bounds a single
// run; zero means unbounded.
func NewBulkResolver(resolver *Resolver, delay time.Duration, maxItems int, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *BulkResolver {
	return &BulkResolver{
		resolver: resolver,
		delay:    delay,
		maxItems: maxItems,
		clock:    clock,
		metrics:  metrics,
		logger:   logger,
	}
}

// ResolveAll looks up each folio and returns one outcome row per unique
// identifier, in input order. A failed folio never aborts the batch.
func (b *BulkResolver) ResolveAll(ctx context.Context, folios []domain.Folio, preferCounty bool) []domain.BulkRow {
	unique := dedupeFolios(folios)
	if b.maxItems > 0 && len(unique) > b.maxItems {
		b.logger.Warn("bulk run truncated", "requested", len(unique), "max", b.maxItems)
		unique = unique[:b.maxItems]
	}

	rows := make([]domain.BulkRow, 0, len(unique))
	for i, folio := range unique {
		rows = append(rows, b.resolveOne(ctx, folio, preferCounty))

		if i < len(unique)-1 && b.delay > 0 {
			select {
			case <-ctx.Done():
				b.logger.Warn("bulk run cancelled", "completed", len(rows), "total", len(unique))
				return dedupeRows(rows)
			case <-b.clock.After(b.delay):
			}
		}
	}
	return dedupeRows(rows)
}

func (b *BulkResolver) resolveOne(ctx context.Context, folio domain.Folio, preferCounty bool) domain.BulkRow {
	row := domain.BulkRow{Folio: folio.String()}
	match, err := b.resolver.Lookup(ctx, folio.String(), preferCounty)
	switch {
	case err == nil:
		row.Status = domain.BulkOK
		row.Record = &match.Record
		row.Source = match.Source
		row.WhereUsed = match.WhereUsed
		if match.Record.Folio != "" {
			row.Folio = match.Record.Folio
		}
		b.metrics.BulkRows.WithLabelValues("ok").Inc()
	case errors.Is(err, domain.ErrNotFound):
		row.Status = domain.BulkNotFound
		b.metrics.BulkRows.WithLabelValues("not_found").Inc()
	default:
		row.Status = domain.BulkError
		row.Detail = err.Error()
		b.metrics.BulkRows.WithLabelValues("error").Inc()
	}
	return row
}

// dedupeFolios keeps the first occurrence per canonical key.
func dedupeFolios(folios []domain.Folio) []domain.Folio {
	seen := make(map[string]struct{}, len(folios))
	out := make([]domain.Folio, 0, len(folios))
	for _, f := range folios {
		key := f.Key()
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, f)
	}
	return out
}

// dedupeRows collapses rows sharing a folio, keeping the first OK
// occurrence when statuses differ. Resolved folios can collide even
// after input dedup when two inputs normalize to the same record.
func dedupeRows(rows []domain.BulkRow) []domain.BulkRow {
	index := make(map[string]int, len(rows))
	out := make([]domain.BulkRow, 0, len(rows))
	for _, row := range rows {
		key := domain.NormalizeFolio(row.Folio).Key()
		if at, dup := index[key]; dup {
			if out[at].Status != domain.BulkOK && row.Status == domain.BulkOK {
				out[at] = row
			}
			continue
		}
		index[key] = len(out)
		out = append(out, row)
	}
	return out
}
