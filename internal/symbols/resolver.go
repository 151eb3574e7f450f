// Package symbols resolves the deduplicated, sorted symbol universe every
// collector operates on, following the allow-list → exchange-markets →
// exchangeInfo fallback chain spec.md §4.3 describes.
package symbols

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/datacat-io/ingest/internal/exchange/binance"
)

// Resolver caches its result for the life of the process, the way
// yitech-candles' config loader caches a parsed symbol list once at
// startup.
type Resolver struct {
	client  *binance.Client
	exclude map[string]struct{}
	extra   []string
	groups  []string

	once   sync.Once
	result []string
	err    error
}

// Options mirrors the SYMBOLS_* configuration surface (spec.md §6.3).
type Options struct {
	Groups  []string // explicit configured universe (SYMBOLS_GROUPS)
	Exclude []string // SYMBOLS_EXCLUDE
	Extra   []string // SYMBOLS_EXTRA
}

// New builds a Resolver. client may be nil only if Groups is non-empty —
// step 2/3 of the resolution order require a live exchange client.
func New(client *binance.Client, opts Options) *Resolver {
	exclude := make(map[string]struct{}, len(opts.Exclude))
	for _, s := range opts.Exclude {
		exclude[normalize(s)] = struct{}{}
	}
	return &Resolver{
		client:  client,
		exclude: exclude,
		extra:   opts.Extra,
		groups:  opts.Groups,
	}
}

// Resolve returns the symbol universe, computing it once and caching the
// result in memory for subsequent calls (spec.md §4.3 "cached in memory for
// the life of the process").
func (r *Resolver) Resolve(ctx context.Context) ([]string, error) {
	r.once.Do(func() {
		r.result, r.err = r.resolve(ctx)
	})
	return r.result, r.err
}

func (r *Resolver) resolve(ctx context.Context) ([]string, error) {
	var base []string

	if len(r.groups) > 0 {
		// Step 1: explicit configured list, used verbatim after normalisation.
		for _, s := range r.groups {
			base = append(base, normalize(s))
		}
	} else {
		// Step 2: derive from exchange markets.
		derived, err := r.fromMarkets(ctx)
		if err != nil || len(derived) == 0 {
			// Step 3: exchangeInfo REST fallback.
			fallback, ferr := r.fromExchangeInfo(ctx)
			if ferr != nil {
				if err != nil {
					return nil, err
				}
				return nil, ferr
			}
			derived = fallback
		}
		base = derived
	}

	// Step 4: exclude is applied to the derived/allow-list base only, then
	// the result is unioned with extra — per spec.md §4.3's literal order
	// ("apply the exclude-list, then union with the extra-list"), an extra
	// entry is always included even if it also appears on the exclude list.
	set := make(map[string]struct{}, len(base)+len(r.extra))
	for _, s := range base {
		if _, excluded := r.exclude[s]; excluded {
			continue
		}
		set[s] = struct{}{}
	}
	for _, s := range r.extra {
		set[normalize(s)] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

// fromMarkets derives the universe from live exchange markets: perpetual,
// linear, USDT-settled contracts, deriving <base>USDT (spec.md §4.3 step 2).
// FetchExchangeInfo doubles as the "exchange markets" listing here since
// Binance USDT-M futures exposes both through the same endpoint; a
// multi-exchange client would route this through a dedicated markets call
// instead.
func (r *Resolver) fromMarkets(ctx context.Context) ([]string, error) {
	if r.client == nil {
		return nil, nil
	}
	syms, err := r.client.FetchExchangeInfo(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, s := range syms {
		if !s.IsUSDTPerpetual() {
			continue
		}
		out = append(out, normalize(s.BaseAsset+"USDT"))
	}
	return out, nil
}

func (r *Resolver) fromExchangeInfo(ctx context.Context) ([]string, error) {
	if r.client == nil {
		return nil, nil
	}
	syms, err := r.client.FetchExchangeInfo(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, s := range syms {
		if !s.IsUSDTPerpetual() {
			continue
		}
		out = append(out, normalize(s.Symbol))
	}
	return out, nil
}

// normalize removes all whitespace, upper-cases and ensures a USDT suffix,
// per spec.md §4.3 step 1 ("after uppercasing and USDT-suffix normalisation").
func normalize(s string) string {
	s = strings.ToUpper(strings.Join(strings.Fields(s), ""))
	if s == "" || strings.HasSuffix(s, "USDT") {
		return s
	}
	return s + "USDT"
}
