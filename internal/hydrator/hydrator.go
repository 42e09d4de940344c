package hydrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/yourorg/comps-api/attom"
	"github.com/yourorg/comps-api/internal/canon"
	"github.com/yourorg/comps-api/internal/comps"
	"github.com/yourorg/comps-api/internal/store"
)

const providerName = "attom"

// Hydrator archives raw provider payloads, the properties they describe and
// the outcome of comparable searches. A nil Hydrator or one without a store
// is a no-op.
type Hydrator struct {
	Store      *store.Store
	StaleAfter time.Duration
}

func (h *Hydrator) Enabled() bool { return h != nil && h.Store != nil }

// Archive stores one payload and upserts its records by canonical address.
func (h *Hydrator) Archive(ctx context.Context, endpoint string, raw []byte, recs []attom.PropertyRecord) error {
	if !h.Enabled() {
		return nil
	}
	props := make([]store.PropertyInput, 0, len(recs))
	externalID := ""
	for _, r := range recs {
		in, ok := propertyInput(r)
		if !ok {
			continue
		}
		props = append(props, in)
		if externalID == "" && len(recs) == 1 {
			externalID = r.AttomID
		}
	}
	_, err := h.Store.WriteSnapshotAndUpsert(ctx, store.SnapshotInput{
		Provider:    providerName,
		Endpoint:    endpoint,
		ExternalID:  externalID,
		PayloadJSON: raw,
		StaleAfter:  h.StaleAfter,
	}, props)
	return err
}

// RecordSearch archives the outcome of a search. err is the error the
// workflow returned, if any.
func (h *Hydrator) RecordSearch(ctx context.Context, res comps.ComparableSearchResult, searchErr error) error {
	if !h.Enabled() {
		return nil
	}
	outcome := "ok"
	var nc *comps.NoComparablesError
	switch {
	case errors.As(searchErr, &nc):
		outcome = "no_comparables"
	case searchErr != nil:
		outcome = "error"
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return h.Store.SaveSearch(ctx, store.SearchRecord{
		ID:               res.SearchID,
		Mode:             string(res.Mode),
		SubjectKey:       res.Subject.Key,
		SubjectAddress:   res.Subject.Address,
		Outcome:          outcome,
		FinalRadiusMiles: res.FinalRadiusMiles,
		Iterations:       res.Iterations,
		Comparables:      len(res.Comparables),
		ResultJSON:       payload,
	})
}

// SearchHistory lists the archived searches for a one-line address,
// newest first. Units are kept apart.
func (h *Hydrator) SearchHistory(ctx context.Context, address string, limit int) ([]store.SearchRecord, error) {
	if !h.Enabled() {
		return []store.SearchRecord{}, nil
	}
	key := canon.Key(address)
	if key == "" {
		return nil, fmt.Errorf("%w: %q", comps.ErrInvalidAddress, address)
	}
	recs, err := h.Store.RecentSearches(ctx, key, limit)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []store.SearchRecord{}
	}
	return recs, nil
}

func propertyInput(r attom.PropertyRecord) (store.PropertyInput, bool) {
	line1, city, st, zip, _ := canon.Canonicalize(r.Line1, r.City, r.State, r.Zip)
	pk := canon.UnitKey(canon.Components{Street: r.Line1, City: r.City, State: r.State, Zip: r.Zip})
	if pk == "" || line1 == "" {
		return store.PropertyInput{}, false
	}
	if u := canon.Unit(r.Line1); u != "" {
		line1 += " " + u
	}
	in := store.PropertyInput{
		PropertyKey:   pk,
		Address1:      line1,
		City:          city,
		State:         st,
		Zip:           zip,
		AttomID:       sqlNullString(r.AttomID),
		Beds:          sqlNullIntPtr(r.Bedrooms),
		Baths:         sqlNullFloatPtr(r.Bathrooms),
		Sqft:          sqlNullIntPtr(r.Sqft),
		PropertyType:  sqlNullString(r.PropertyType),
		YearBuilt:     sqlNullIntPtr(r.YearBuilt),
		AssessedValue: sqlNullFloatPtr(r.AssessedValue),
		LastSalePrice: sqlNullFloatPtr(r.SaleAmount),
	}
	if r.Latitude != 0 || r.Longitude != 0 {
		in.Lat = sql.NullFloat64{Float64: r.Latitude, Valid: true}
		in.Lon = sql.NullFloat64{Float64: r.Longitude, Valid: true}
	}
	if r.AVM != nil {
		in.AVMValue = sqlNullFloatPtr(r.AVM.Value)
	}
	if r.SaleDate != nil {
		in.LastSaleDate = sql.NullTime{Time: *r.SaleDate, Valid: true}
	}
	return in, true
}

func sqlNullFloatPtr(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func sqlNullIntPtr(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func sqlNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
