package cache

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestBoundedSizeNeverExceedsCapacity(t *testing.T) {
	b := NewBounded[string]("test", 3)
	for i := 0; i < 20; i++ {
		b.Set(fmt.Sprintf("k%d", i), "v")
		if b.Len() > b.Cap() {
			t.Fatalf("after set %d: len=%d > cap=%d", i, b.Len(), b.Cap())
		}
	}
	if want := []string{"k17", "k18", "k19"}; !reflect.DeepEqual(b.Keys(), want) {
		t.Fatalf("keys=%v, want %v", b.Keys(), want)
	}
}

func TestBoundedEviction(t *testing.T) {
	tests := []struct {
		name    string
		ops     func(b *Bounded[int])
		evicted string
		kept    []string
	}{
		{
			name: "oldest insert evicted first",
			ops: func(b *Bounded[int]) {
				b.Set("a", 1)
				b.Set("b", 2)
				b.Set("c", 3)
			},
			evicted: "a",
			kept:    []string{"b", "c"},
		},
		{
			name: "overwrite moves key to most recent",
			ops: func(b *Bounded[int]) {
				b.Set("a", 1)
				b.Set("b", 2)
				b.Set("a", 10)
				b.Set("c", 3)
			},
			evicted: "b",
			kept:    []string{"a", "c"},
		},
		{
			name: "get does not reorder",
			ops: func(b *Bounded[int]) {
				b.Set("a", 1)
				b.Set("b", 2)
				b.Get("a")
				b.Set("c", 3)
			},
			evicted: "a",
			kept:    []string{"b", "c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBounded[int]("test", 2)
			tt.ops(b)
			if b.Contains(tt.evicted) {
				t.Fatalf("expected %q evicted, keys=%v", tt.evicted, b.Keys())
			}
			for _, k := range tt.kept {
				if !b.Contains(k) {
					t.Fatalf("expected %q kept, keys=%v", k, b.Keys())
				}
			}
		})
	}
}

func TestBoundedNegativeDistinctFromAbsent(t *testing.T) {
	b := NewBounded[string]("test", 10)
	b.Set("Nobody|Nothing", "")

	v, ok := b.Get("Nobody|Nothing")
	if !ok || v != "" {
		t.Fatalf("negative entry: got (%q, %v), want (\"\", true)", v, ok)
	}
	if _, ok := b.Get("never"); ok {
		t.Fatal("absent key reported present")
	}
}

func TestBoundedOverwriteValue(t *testing.T) {
	b := NewBounded[string]("test", 2)
	b.Set("k", "old")
	b.Set("k", "new")
	if v, _ := b.Get("k"); v != "new" {
		t.Fatalf("value=%q, want new", v)
	}
	if b.Len() != 1 {
		t.Fatalf("len=%d, want 1", b.Len())
	}
}

func TestBoundedClear(t *testing.T) {
	b := NewBounded[struct{}]("failed", 5)
	b.Set("http://x/a.jpg", struct{}{})
	b.Clear()
	if b.Len() != 0 {
		t.Fatalf("len=%d after clear", b.Len())
	}
}

func TestNewBoundedDefaultsCapacity(t *testing.T) {
	b := NewBounded[string]("test", 0)
	if b.Cap() != DefaultCapacity {
		t.Fatalf("cap=%d, want %d", b.Cap(), DefaultCapacity)
	}
}

func TestLookupWithoutSharedTier(t *testing.T) {
	ctx := context.Background()
	l := NewLookup(KindAlbumArt, 2, nil)

	if _, ok := l.Get(ctx, "a|b"); ok {
		t.Fatal("expected miss on empty lookup")
	}
	l.Set(ctx, "a|b", "https://art/1.jpg")
	l.Set(ctx, "c|d", "")

	if v, ok := l.Get(ctx, "a|b"); !ok || v != "https://art/1.jpg" {
		t.Fatalf("got (%q, %v)", v, ok)
	}
	if v, ok := l.Get(ctx, "c|d"); !ok || v != "" {
		t.Fatalf("negative got (%q, %v)", v, ok)
	}
}

func TestSharedUnavailableFallsBackToMiss(t *testing.T) {
	s := NewShared(Config{RedisAddr: "127.0.0.1:1", TTL: time.Minute, DisableOnError: true}, zerolog.Nop())
	defer s.Close()

	if s.IsAvailable() {
		t.Fatal("expected unreachable redis to disable the shared cache")
	}
	s.Set(context.Background(), KindRadioLogo, "k", "v")
	if _, ok := s.Get(context.Background(), KindRadioLogo, "k"); ok {
		t.Fatal("disabled shared cache returned a hit")
	}

	var nilShared *Shared
	if nilShared.IsAvailable() {
		t.Fatal("nil shared cache reported available")
	}
}
