package hydrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yourorg/comps-api/internal/canon"
	"github.com/yourorg/comps-api/internal/comps"
)

// Searcher is the part of comps.Service the bulk job drives.
type Searcher interface {
	FindSalesComparables(ctx context.Context, addr comps.AddressComponents, opts comps.SalesOptions) (comps.ComparableSearchResult, error)
	FindSimilarProperties(ctx context.Context, addr comps.AddressComponents, opts comps.SimilarOptions) (comps.ComparableSearchResult, error)
}

type BulkConfig struct {
	// Addresses are one-line subject addresses.
	Addresses            []string
	Modes                []comps.SearchMode
	Interval             time.Duration
	PauseBetweenRequests time.Duration
	RequestTimeout       time.Duration
}

// BulkJob re-runs comparable searches for a fixed portfolio of subjects so
// the provider cache and the search archive stay warm.
type BulkJob struct {
	Service  Searcher
	Hydrator *Hydrator
	Logger   *zerolog.Logger
	Config   BulkConfig
}

func (j *BulkJob) log() *zerolog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return &log.Logger
}

func (j *BulkJob) validate() error {
	if j == nil {
		return errors.New("nil bulk job")
	}
	if j.Service == nil {
		return errors.New("hydrator bulk job missing service")
	}
	if len(j.Config.Addresses) == 0 {
		return errors.New("hydrator bulk job requires at least one address")
	}
	if len(j.Config.Modes) == 0 {
		j.Config.Modes = []comps.SearchMode{comps.ModeSales, comps.ModeSimilar}
	}
	if j.Config.RequestTimeout <= 0 {
		j.Config.RequestTimeout = 60 * time.Second
	}
	return nil
}

func (j *BulkJob) Run(ctx context.Context) error {
	if err := j.validate(); err != nil {
		return err
	}
	interval := j.Config.Interval
	if interval <= 0 {
		return j.RunOnce(ctx)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	j.log().Info().Dur("interval", interval).Int("addresses", len(j.Config.Addresses)).Msg("hydrator bulk job starting")
	if err := j.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		j.log().Error().Err(err).Msg("hydrator bulk job initial run")
	}
	for {
		select {
		case <-ctx.Done():
			j.log().Info().Err(ctx.Err()).Msg("hydrator bulk job stopping")
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			if err := j.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				j.log().Error().Err(err).Msg("hydrator bulk job iteration")
			}
		}
	}
}

// RunOnce searches every address in every mode. A rate-limit error stops
// the pass; other failures are collected and returned together.
func (j *BulkJob) RunOnce(ctx context.Context) error {
	if err := j.validate(); err != nil {
		return err
	}
	var joined error
	first := true
	for _, raw := range j.Config.Addresses {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		addr := canon.ParseOneLine(line)
		for _, mode := range j.Config.Modes {
			if !first && j.Config.PauseBetweenRequests > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(j.Config.PauseBetweenRequests):
				}
			}
			first = false
			if ctx.Err() != nil {
				return ctx.Err()
			}
			err := j.searchOne(ctx, addr, mode)
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, comps.ErrRateLimited) {
				return err
			}
			joined = errors.Join(joined, fmt.Errorf("%s %s: %w", mode, line, err))
		}
	}
	return joined
}

func (j *BulkJob) searchOne(ctx context.Context, addr comps.AddressComponents, mode comps.SearchMode) error {
	reqCtx, cancel := context.WithTimeout(ctx, j.Config.RequestTimeout)
	defer cancel()

	var (
		res comps.ComparableSearchResult
		err error
	)
	switch mode {
	case comps.ModeSales:
		res, err = j.Service.FindSalesComparables(reqCtx, addr, comps.SalesOptions{})
	case comps.ModeSimilar:
		res, err = j.Service.FindSimilarProperties(reqCtx, addr, comps.SimilarOptions{})
	default:
		return fmt.Errorf("unknown search mode %q", mode)
	}

	if res.Subject.Address != "" {
		if rerr := j.Hydrator.RecordSearch(ctx, res, err); rerr != nil {
			j.log().Warn().Err(rerr).Str("address", addr.OneLine()).Msg("hydrator bulk job archive failed")
		}
	}
	if errors.Is(err, comps.ErrNoComparablesFound) {
		j.log().Info().Str("address", addr.OneLine()).Str("mode", string(mode)).Msg("hydrator bulk job found no comparables")
		return nil
	}
	if err != nil {
		return err
	}
	j.log().Info().
		Str("address", addr.OneLine()).
		Str("mode", string(mode)).
		Int("comparables", len(res.Comparables)).
		Float64("radius_miles", res.FinalRadiusMiles).
		Msg("hydrator bulk job searched")
	return nil
}

// SplitAddresses splits a list of one-line addresses on semicolons and
// newlines. Commas belong to the addresses.
func SplitAddresses(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == '\n' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseModes reads a comma separated list of search modes.
func ParseModes(s string) ([]comps.SearchMode, error) {
	var out []comps.SearchMode
	for _, p := range strings.Split(s, ",") {
		switch m := comps.SearchMode(strings.ToLower(strings.TrimSpace(p))); m {
		case "":
		case comps.ModeSales, comps.ModeSimilar:
			out = append(out, m)
		default:
			return nil, fmt.Errorf("unknown search mode %q", p)
		}
	}
	return out, nil
}
