// Package geocode resolves free-form caller locations to coordinates.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"googlemaps.github.io/maps"
)

// ErrNoResults is returned when the address matched nothing.
var ErrNoResults = errors.New("geocode: no results")

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Google geocodes through the Maps Geocoding API. Suffix is appended to every
// address to bias results toward the service area.
type Google struct {
	client *maps.Client
	suffix string
}

type Option func(*options)

type options struct {
	baseURL string
}

func WithBaseURL(url string) Option {
	return func(o *options) {
		o.baseURL = url
	}
}

func NewGoogle(apiKey, suffix string, opts ...Option) (*Google, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	clientOpts := []maps.ClientOption{maps.WithAPIKey(apiKey)}
	if o.baseURL != "" {
		clientOpts = append(clientOpts, maps.WithBaseURL(o.baseURL))
	}

	client, err := maps.NewClient(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create maps client: %w", err)
	}
	return &Google{client: client, suffix: suffix}, nil
}

func (g *Google) Geocode(ctx context.Context, location string) (Point, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return Point{}, ErrNoResults
	}

	results, err := g.client.Geocode(ctx, &maps.GeocodingRequest{Address: location + g.suffix})
	if err != nil {
		if strings.Contains(err.Error(), "ZERO_RESULTS") {
			return Point{}, ErrNoResults
		}
		return Point{}, fmt.Errorf("geocode %q: %w", location, err)
	}
	if len(results) == 0 {
		return Point{}, ErrNoResults
	}

	loc := results[0].Geometry.Location
	return Point{Lat: loc.Lat, Lng: loc.Lng}, nil
}
