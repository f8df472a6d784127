// Package geocoding turns coordinates into street addresses.
package geocoding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BearBump/FleetTrack/internal/cache"
	"github.com/BearBump/FleetTrack/internal/models"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"googlemaps.github.io/maps"
)

var (
	ErrNoAddress  = errors.New("no address found")
	ErrNotEnabled = errors.New("geocoding is not configured")
)

type Geocoder interface {
	ReverseGeocode(ctx context.Context, p models.Coordinate) (string, error)
}

// Client calls the Google Maps geocoding API.
type Client struct {
	c *maps.Client
}

func NewClient(apiKey string, opts ...maps.ClientOption) (*Client, error) {
	c, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, errors.Wrap(err, "create maps client")
	}
	return &Client{c: c}, nil
}

func (c *Client) ReverseGeocode(ctx context.Context, p models.Coordinate) (string, error) {
	res, err := c.c.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: p.Latitude, Lng: p.Longitude},
	})
	if err != nil {
		if strings.Contains(err.Error(), "ZERO_RESULTS") {
			return "", ErrNoAddress
		}
		return "", errors.Wrap(err, "maps reverse geocode")
	}
	if len(res) == 0 || res[0].FormattedAddress == "" {
		return "", ErrNoAddress
	}
	return res[0].FormattedAddress, nil
}

// Nop is used when no API key is configured.
type Nop struct{}

func (Nop) ReverseGeocode(context.Context, models.Coordinate) (string, error) {
	return "", ErrNotEnabled
}

// Cached keeps resolved addresses in a byte cache, keyed by the coordinate
// rounded to about a meter.
type Cached struct {
	next  Geocoder
	cache cache.BytesCache
	ttl   time.Duration
}

func NewCached(next Geocoder, c cache.BytesCache, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: c, ttl: ttl}
}

func cacheKey(p models.Coordinate) string {
	return fmt.Sprintf("geocode:%.5f,%.5f", p.Latitude, p.Longitude)
}

func (c *Cached) ReverseGeocode(ctx context.Context, p models.Coordinate) (string, error) {
	key := cacheKey(p)
	if b, ok, err := c.cache.Get(ctx, key); err == nil && ok {
		return string(b), nil
	} else if err != nil {
		logrus.WithError(err).Warn("geocode cache read failed")
	}

	addr, err := c.next.ReverseGeocode(ctx, p)
	if err != nil {
		return "", err
	}
	if err := c.cache.Set(ctx, key, []byte(addr), c.ttl); err != nil {
		logrus.WithError(err).Warn("geocode cache write failed")
	}
	return addr, nil
}
