// Package cache declares the byte caches used in front of the document store.
package cache

import (
	"context"
	"fmt"
	"time"
)

type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

func DriverLocationKey(driverID string) string {
	return fmt.Sprintf("driver:%s:location", driverID)
}

func ScanLimitKey(driverID string) string {
	return fmt.Sprintf("ratelimit:scan:%s", driverID)
}
