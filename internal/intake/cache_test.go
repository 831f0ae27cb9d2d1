package intake

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisContextCacheRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewRedisContextCache(client, time.Minute)

	apptDate := time.Date(2025, 12, 1, 10, 0, 0, 0, time.UTC)
	tc := &TokenContext{
		Valid:            true,
		PatientID:        "pid1",
		PatientFirstName: "Jane",
		Appointment:      &Appointment{ID: "apt1", Date: apptDate, ProviderID: "prov1"},
	}

	if err := cache.Set(context.Background(), "inv-1", tc); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := cache.Get(context.Background(), "inv-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil || !got.Valid || got.PatientFirstName != "Jane" {
		t.Fatalf("unexpected context: %#v", got)
	}
	if got.Appointment == nil || !got.Appointment.Date.Equal(apptDate) {
		t.Fatalf("unexpected appointment: %#v", got.Appointment)
	}
}

func TestRedisContextCacheMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewRedisContextCache(client, time.Minute)

	got, err := cache.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil on miss, got %#v", got)
	}
}

func TestRedisContextCacheInvalidate(t *testing.T) {
	mr := miniredis.RunT(t)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewRedisContextCache(client, time.Minute)

	if err := cache.Set(context.Background(), "inv-1", &TokenContext{Valid: true}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := cache.Invalidate(context.Background(), "inv-1"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	got, err := cache.Get(context.Background(), "inv-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil after invalidate, got %#v", got)
	}
}

func TestRedisContextCacheTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewRedisContextCache(client, time.Minute)

	if err := cache.Set(context.Background(), "inv-1", &TokenContext{Valid: true}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	got, err := cache.Get(context.Background(), "inv-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected expiry after TTL, got %#v", got)
	}
}
