package ingest

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/campus-transit/transitbook/internal/geo"
)

// LocationProvider supplies the reference point buses are measured from
type LocationProvider interface {
	Location(ctx context.Context) (geo.Point, error)
}

// FixedLocation always reports the same point
type FixedLocation geo.Point

// Location implements LocationProvider
func (f FixedLocation) Location(context.Context) (geo.Point, error) {
	return geo.Point(f), nil
}

// Reference asks the provider for a point and falls back when it has none
func Reference(ctx context.Context, provider LocationProvider, fallback geo.Point) geo.Point {
	if provider == nil {
		return fallback
	}
	p, err := provider.Location(ctx)
	if err != nil || p.IsZero() {
		log.Debug().Err(err).Msg("Reference location unavailable, using fallback")
		return fallback
	}
	return p
}
