package symbols

import (
	"context"
	"reflect"
	"testing"
)

func TestResolveExplicitGroupsNormalizes(t *testing.T) {
	r := New(nil, Options{Groups: []string{"btc", "eth usdt", "SOLUSDT"}})

	got, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Resolve() = %v, want %v", got, want)
	}
}

func TestResolveExcludeThenExtra(t *testing.T) {
	r := New(nil, Options{
		Groups:  []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"},
		Exclude: []string{"ethusdt"},
		Extra:   []string{"doge"},
	})

	got, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := []string{"BTCUSDT", "DOGEUSDT", "SOLUSDT"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Resolve() = %v, want %v", got, want)
	}
}

func TestResolveExtraBypassesExclude(t *testing.T) {
	// spec.md §4.3 step 4: exclude is applied, then the result is unioned
	// with extra — an extra entry always survives even if also excluded.
	r := New(nil, Options{
		Groups:  []string{"BTCUSDT"},
		Exclude: []string{"DOGEUSDT"},
		Extra:   []string{"dogeusdt"},
	})

	got, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := []string{"BTCUSDT", "DOGEUSDT"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Resolve() = %v, want %v", got, want)
	}
}

func TestResolveCachesResult(t *testing.T) {
	r := New(nil, Options{Groups: []string{"BTCUSDT"}})

	first, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	r.groups = append(r.groups, "ETHUSDT") // mutate the field directly; cached result must not change
	second, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected Resolve() to return the cached result: first=%v second=%v", first, second)
	}
}
