package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/rs/zerolog/log"

	"github.com/yourorg/comps-api/internal/comps"
)

// Searcher is the comps.Service surface the handlers use.
type Searcher interface {
	FindSalesComparables(ctx context.Context, addr comps.AddressComponents, opts comps.SalesOptions) (comps.ComparableSearchResult, error)
	FindSimilarProperties(ctx context.Context, addr comps.AddressComponents, opts comps.SimilarOptions) (comps.ComparableSearchResult, error)
	FindSalesComparablesByID(ctx context.Context, id string, opts comps.SalesOptions) (comps.ComparableSearchResult, error)
}

// Recorder archives search outcomes; *hydrator.Hydrator implements it.
type Recorder interface {
	RecordSearch(ctx context.Context, res comps.ComparableSearchResult, err error) error
}

type CompsDeps struct {
	Service Searcher
	// Archive is optional.
	Archive Recorder
}

type addressFields struct {
	Street string `json:"street"`
	City   string `json:"city"`
	County string `json:"county,omitempty"`
	State  string `json:"state"`
	Zip    string `json:"zip_code"`
}

func (a addressFields) components() comps.AddressComponents {
	return comps.AddressComponents{
		Street: strings.TrimSpace(a.Street),
		City:   strings.TrimSpace(a.City),
		County: strings.TrimSpace(a.County),
		State:  strings.TrimSpace(a.State),
		Zip:    strings.TrimSpace(a.Zip),
	}
}

type SalesRequest struct {
	addressFields
	LookbackMonths        *int     `json:"lookback_months,omitempty"`
	SqftTolerance         *float64 `json:"sqft_tolerance,omitempty"` // percent
	PriceBand             *float64 `json:"price_band,omitempty"`     // fraction of the subject AVM
	PropertyTypeMustMatch bool     `json:"property_type_must_match,omitempty"`
}

type SimilarRequest struct {
	addressFields
	SqftTolerance         *float64 `json:"sqft_tolerance,omitempty"` // percent, default 10
	RadiusMiles           *float64 `json:"radius_miles,omitempty"`   // default 5
	Bedrooms              *int     `json:"bedrooms,omitempty"`
	PriceBand             *float64 `json:"price_band,omitempty"`
	PropertyTypeMustMatch bool     `json:"property_type_must_match,omitempty"`
}

type searchResponse struct {
	OK            bool `json:"ok"`
	Count         int  `json:"count"`
	NoComparables bool `json:"no_comparables,omitempty"`
	comps.ComparableSearchResult
}

const maxRadiusMiles = 25.0

func RegisterComps(r chi.Router, d CompsDeps) {
	r.Post("/property/salescomparables", func(w http.ResponseWriter, req *http.Request) {
		var body SalesRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, req, http.StatusBadRequest, "invalid_json", err.Error())
			return
		}
		handleSales(w, req, d, body)
	})

	// Path form for clients that cannot send a body; county may be "-".
	r.Get("/salescomparables/address/{street}/{city}/{county}/{state}/{zip}", func(w http.ResponseWriter, req *http.Request) {
		var body SalesRequest
		body.Street = chi.URLParam(req, "street")
		body.City = chi.URLParam(req, "city")
		if c := chi.URLParam(req, "county"); c != "-" {
			body.County = c
		}
		body.State = chi.URLParam(req, "state")
		body.Zip = chi.URLParam(req, "zip")
		if !salesQuery(w, req, &body) {
			return
		}
		handleSales(w, req, d, body)
	})

	r.Get("/salescomparables/propid/{propId}", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "propId")
		if !isDigits(id) {
			writeError(w, req, http.StatusBadRequest, "invalid_property_id", "propId must be a numeric ATTOM id")
			return
		}
		var body SalesRequest
		if !salesQuery(w, req, &body) {
			return
		}
		opts, ok := salesOptions(w, req, body)
		if !ok {
			return
		}
		res, err := d.Service.FindSalesComparablesByID(req.Context(), id, opts)
		respond(w, req, d, res, err)
	})

	r.Post("/property/similar", func(w http.ResponseWriter, req *http.Request) {
		var body SimilarRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, req, http.StatusBadRequest, "invalid_json", err.Error())
			return
		}
		handleSimilar(w, req, d, body)
	})
}

func handleSales(w http.ResponseWriter, req *http.Request, d CompsDeps, body SalesRequest) {
	addr := body.components()
	if !validAddress(w, req, addr) {
		return
	}
	opts, ok := salesOptions(w, req, body)
	if !ok {
		return
	}
	res, err := d.Service.FindSalesComparables(req.Context(), addr, opts)
	respond(w, req, d, res, err)
}

// salesQuery reads the search options of the GET forms.
func salesQuery(w http.ResponseWriter, req *http.Request, body *SalesRequest) bool {
	q := req.URL.Query()
	if v := q.Get("lookback_months"); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, req, http.StatusBadRequest, "invalid_lookback", err.Error())
			return false
		}
		body.LookbackMonths = &i
	}
	if v := q.Get("sqft_tolerance"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, req, http.StatusBadRequest, "invalid_sqft_tolerance", err.Error())
			return false
		}
		body.SqftTolerance = &f
	}
	body.PropertyTypeMustMatch = q.Get("property_type_must_match") == "true"
	return true
}

func salesOptions(w http.ResponseWriter, req *http.Request, body SalesRequest) (comps.SalesOptions, bool) {
	if body.LookbackMonths != nil && (*body.LookbackMonths <= 0 || *body.LookbackMonths > 120) {
		writeError(w, req, http.StatusBadRequest, "invalid_lookback", "lookback_months must be between 1 and 120")
		return comps.SalesOptions{}, false
	}
	if !validTolerance(w, req, body.SqftTolerance) || !validBand(w, req, body.PriceBand) {
		return comps.SalesOptions{}, false
	}
	opts := comps.SalesOptions{
		SqftTolerancePct:      body.SqftTolerance,
		PriceBand:             body.PriceBand,
		PropertyTypeMustMatch: body.PropertyTypeMustMatch,
	}
	if body.LookbackMonths != nil {
		opts.LookbackMonths = *body.LookbackMonths
	}
	return opts, true
}

func handleSimilar(w http.ResponseWriter, req *http.Request, d CompsDeps, body SimilarRequest) {
	addr := body.components()
	if !validAddress(w, req, addr) {
		return
	}
	if body.RadiusMiles != nil && (*body.RadiusMiles <= 0 || *body.RadiusMiles > maxRadiusMiles) {
		writeError(w, req, http.StatusBadRequest, "invalid_radius", "radius_miles must be greater than 0 and at most 25")
		return
	}
	if body.Bedrooms != nil && *body.Bedrooms < 0 {
		writeError(w, req, http.StatusBadRequest, "invalid_bedrooms", "bedrooms must not be negative")
		return
	}
	if !validTolerance(w, req, body.SqftTolerance) || !validBand(w, req, body.PriceBand) {
		return
	}
	opts := comps.SimilarOptions{
		SqftTolerancePct:      body.SqftTolerance,
		Bedrooms:              body.Bedrooms,
		PriceBand:             body.PriceBand,
		PropertyTypeMustMatch: body.PropertyTypeMustMatch,
	}
	if body.RadiusMiles != nil {
		opts.RadiusMiles = *body.RadiusMiles
	}
	res, err := d.Service.FindSimilarProperties(req.Context(), addr, opts)
	respond(w, req, d, res, err)
}

func respond(w http.ResponseWriter, req *http.Request, d CompsDeps, res comps.ComparableSearchResult, err error) {
	if d.Archive != nil && res.Subject.Address != "" {
		go archiveSearch(req.Context(), d.Archive, res, err)
	}
	if errors.Is(err, comps.ErrNoComparablesFound) {
		render.JSON(w, req, searchResponse{OK: true, NoComparables: true, ComparableSearchResult: res})
		return
	}
	if err != nil {
		status, code := ErrorStatus(err)
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).Str("path", req.URL.Path).Msg("comparable search failed")
		}
		writeError(w, req, status, code, err.Error())
		return
	}
	render.JSON(w, req, searchResponse{OK: true, Count: len(res.Comparables), ComparableSearchResult: res})
}

func archiveSearch(ctx context.Context, a Recorder, res comps.ComparableSearchResult, searchErr error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.RecordSearch(ctx, res, searchErr); err != nil {
		log.Warn().Err(err).Str("search_id", res.SearchID.String()).Msg("archive search")
	}
}

// StatusClientClosedRequest is reported when the caller went away before
// the search finished.
const StatusClientClosedRequest = 499

// ErrorStatus maps search errors to an HTTP status and error code.
func ErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, comps.ErrInvalidAddress):
		return http.StatusBadRequest, "invalid_address"
	case errors.Is(err, comps.ErrIDLookupUnsupported):
		return http.StatusNotImplemented, "not_implemented"
	case errors.Is(err, comps.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, comps.ErrAmbiguousAddress):
		return http.StatusConflict, "ambiguous_address"
	case errors.Is(err, comps.ErrInsufficientSubjectData):
		return http.StatusUnprocessableEntity, "insufficient_subject_data"
	case errors.Is(err, comps.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, comps.ErrUpstreamUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusBadGateway, "upstream_unavailable"
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest, "client_closed_request"
	}
	return http.StatusInternalServerError, "internal_error"
}

func writeError(w http.ResponseWriter, req *http.Request, status int, code, detail string) {
	render.Status(req, status)
	render.JSON(w, req, map[string]any{"error": code, "detail": detail})
}

func validAddress(w http.ResponseWriter, req *http.Request, a comps.AddressComponents) bool {
	if a.Street == "" || a.City == "" || a.State == "" || a.Zip == "" {
		writeError(w, req, http.StatusBadRequest, "address_required", "street, city, state, zip_code are required")
		return false
	}
	return true
}

func validTolerance(w http.ResponseWriter, req *http.Request, pct *float64) bool {
	if pct != nil && (*pct <= 0 || *pct > 100) {
		writeError(w, req, http.StatusBadRequest, "invalid_sqft_tolerance", "sqft_tolerance is a percentage between 0 and 100")
		return false
	}
	return true
}

func validBand(w http.ResponseWriter, req *http.Request, band *float64) bool {
	if band != nil && (*band <= 0 || *band >= 1) {
		writeError(w, req, http.StatusBadRequest, "invalid_price_band", "price_band is a fraction between 0 and 1")
		return false
	}
	return true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
