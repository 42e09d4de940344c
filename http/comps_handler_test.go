package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/comps-api/internal/comps"
)

type mockSearcher struct{ mock.Mock }

func (m *mockSearcher) FindSalesComparables(ctx context.Context, addr comps.AddressComponents, opts comps.SalesOptions) (comps.ComparableSearchResult, error) {
	args := m.Called(ctx, addr, opts)
	return args.Get(0).(comps.ComparableSearchResult), args.Error(1)
}

func (m *mockSearcher) FindSimilarProperties(ctx context.Context, addr comps.AddressComponents, opts comps.SimilarOptions) (comps.ComparableSearchResult, error) {
	args := m.Called(ctx, addr, opts)
	return args.Get(0).(comps.ComparableSearchResult), args.Error(1)
}

func (m *mockSearcher) FindSalesComparablesByID(ctx context.Context, id string, opts comps.SalesOptions) (comps.ComparableSearchResult, error) {
	args := m.Called(ctx, id, opts)
	return args.Get(0).(comps.ComparableSearchResult), args.Error(1)
}

type chanRecorder chan error

func (c chanRecorder) RecordSearch(_ context.Context, _ comps.ComparableSearchResult, err error) error {
	c <- err
	return nil
}

var fiorenza = comps.AddressComponents{Street: "4 Fiorenza Drive", City: "Wilmington", State: "MA", Zip: "01887"}

func newRouter(d CompsDeps) http.Handler {
	r := chi.NewRouter()
	RegisterComps(r, d)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

func sampleResult(mode comps.SearchMode, n int) comps.ComparableSearchResult {
	beds := 4
	res := comps.ComparableSearchResult{
		Mode:             mode,
		Subject:          comps.SubjectProperty{Address: "4 FIORENZA DR, WILMINGTON, MA 01887", Bedrooms: &beds},
		Criteria:         comps.MatchCriteria{ExactBedrooms: 4},
		FinalRadiusMiles: 1.5,
		Iterations:       5,
		Comparables:      []comps.EnrichedCandidate{},
	}
	for i := 0; i < n; i++ {
		res.Comparables = append(res.Comparables, comps.EnrichedCandidate{CandidateProperty: comps.CandidateProperty{Address: "x", DistanceMiles: float64(i)}})
	}
	return res
}

func TestSalesComparablesPost(t *testing.T) {
	svc := &mockSearcher{}
	tol := 15.0
	svc.On("FindSalesComparables", mock.Anything, fiorenza, comps.SalesOptions{LookbackMonths: 6, SqftTolerancePct: &tol}).
		Return(sampleResult(comps.ModeSales, 10), nil)

	rec, out := do(t, newRouter(CompsDeps{Service: svc}), http.MethodPost, "/property/salescomparables",
		`{"street":"4 Fiorenza Drive","city":"Wilmington","state":"MA","zip_code":"01887","lookback_months":6,"sqft_tolerance":15}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, 10.0, out["count"])
	assert.Equal(t, "sales", out["mode"])
	assert.Equal(t, 1.5, out["final_radius_miles"])
	assert.Len(t, out["comparables"], 10)
	assert.NotContains(t, out, "no_comparables")
	svc.AssertExpectations(t)
}

func TestSalesComparablesPathForm(t *testing.T) {
	svc := &mockSearcher{}
	svc.On("FindSalesComparables", mock.Anything,
		comps.AddressComponents{Street: "4 Fiorenza Drive", City: "Wilmington", County: "Middlesex", State: "MA", Zip: "01887"},
		comps.SalesOptions{}).
		Return(sampleResult(comps.ModeSales, 10), nil)

	rec, _ := do(t, newRouter(CompsDeps{Service: svc}), http.MethodGet,
		"/salescomparables/address/4%20Fiorenza%20Drive/Wilmington/Middlesex/MA/01887", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)
}

func TestSalesComparablesByPropertyID(t *testing.T) {
	svc := &mockSearcher{}
	months := 6
	svc.On("FindSalesComparablesByID", mock.Anything, "184713191", comps.SalesOptions{LookbackMonths: months, PropertyTypeMustMatch: true}).
		Return(sampleResult(comps.ModeSales, 10), nil)

	rec, out := do(t, newRouter(CompsDeps{Service: svc}), http.MethodGet,
		"/salescomparables/propid/184713191?lookback_months=6&property_type_must_match=true", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10.0, out["count"])
	svc.AssertExpectations(t)
}

func TestSalesComparablesByPropertyIDValidation(t *testing.T) {
	cases := map[string]string{
		"/salescomparables/propid/18471x191":             "invalid_property_id",
		"/salescomparables/propid/1?lookback_months=abc": "invalid_lookback",
		"/salescomparables/propid/1?lookback_months=200": "invalid_lookback",
		"/salescomparables/propid/1?sqft_tolerance=-2":   "invalid_sqft_tolerance",
	}
	for path, code := range cases {
		t.Run(path, func(t *testing.T) {
			svc := &mockSearcher{}
			rec, out := do(t, newRouter(CompsDeps{Service: svc}), http.MethodGet, path, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, code, out["error"])
			svc.AssertNotCalled(t, "FindSalesComparablesByID", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestNoComparablesIsNotAnError(t *testing.T) {
	svc := &mockSearcher{}
	res := sampleResult(comps.ModeSales, 0)
	res.FinalRadiusMiles = 5.5
	res.Iterations = 12
	svc.On("FindSalesComparables", mock.Anything, fiorenza, comps.SalesOptions{}).
		Return(res, &comps.NoComparablesError{FinalRadiusMiles: 5.5, Iterations: 12})

	rec, out := do(t, newRouter(CompsDeps{Service: svc}), http.MethodPost, "/property/salescomparables",
		`{"street":"4 Fiorenza Drive","city":"Wilmington","state":"MA","zip_code":"01887"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, 0.0, out["count"])
	assert.Equal(t, true, out["no_comparables"])
	assert.Equal(t, 5.5, out["final_radius_miles"])
	assert.Contains(t, out, "criteria")
}

func TestSimilarProperties(t *testing.T) {
	svc := &mockSearcher{}
	beds := 3
	svc.On("FindSimilarProperties", mock.Anything, fiorenza, comps.SimilarOptions{RadiusMiles: 2.5, Bedrooms: &beds}).
		Return(sampleResult(comps.ModeSimilar, 6), nil)

	rec, out := do(t, newRouter(CompsDeps{Service: svc}), http.MethodPost, "/property/similar",
		`{"street":"4 Fiorenza Drive","city":"Wilmington","state":"MA","zip_code":"01887","radius_miles":2.5,"bedrooms":3}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 6.0, out["count"])
	assert.Equal(t, "similar", out["mode"])
	svc.AssertExpectations(t)
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name, path, body, code string
	}{
		{"bad json", "/property/similar", `{`, "invalid_json"},
		{"missing zip", "/property/similar", `{"street":"4 Fiorenza Drive","city":"Wilmington","state":"MA"}`, "address_required"},
		{"radius", "/property/similar", `{"street":"a","city":"b","state":"MA","zip_code":"01887","radius_miles":0}`, "invalid_radius"},
		{"tolerance", "/property/similar", `{"street":"a","city":"b","state":"MA","zip_code":"01887","sqft_tolerance":-5}`, "invalid_sqft_tolerance"},
		{"band", "/property/salescomparables", `{"street":"a","city":"b","state":"MA","zip_code":"01887","price_band":1.5}`, "invalid_price_band"},
		{"lookback", "/property/salescomparables", `{"street":"a","city":"b","state":"MA","zip_code":"01887","lookback_months":0}`, "invalid_lookback"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &mockSearcher{}
			rec, out := do(t, newRouter(CompsDeps{Service: svc}), http.MethodPost, tc.path, tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tc.code, out["error"])
			svc.AssertNotCalled(t, "FindSimilarProperties", mock.Anything, mock.Anything, mock.Anything)
			svc.AssertNotCalled(t, "FindSalesComparables", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestErrorStatuses(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{comps.ErrInvalidAddress, http.StatusBadRequest, "invalid_address"},
		{comps.ErrNotFound, http.StatusNotFound, "not_found"},
		{&comps.AmbiguousAddressError{Address: "x", Locations: 2}, http.StatusConflict, "ambiguous_address"},
		{comps.ErrInsufficientSubjectData, http.StatusUnprocessableEntity, "insufficient_subject_data"},
		{comps.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{comps.ErrIDLookupUnsupported, http.StatusNotImplemented, "not_implemented"},
		{comps.ErrUpstreamUnavailable, http.StatusBadGateway, "upstream_unavailable"},
		{fmt.Errorf("enrich: %w", context.Canceled), StatusClientClosedRequest, "client_closed_request"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			svc := &mockSearcher{}
			svc.On("FindSimilarProperties", mock.Anything, mock.Anything, mock.Anything).
				Return(comps.ComparableSearchResult{}, tc.err)
			rec, out := do(t, newRouter(CompsDeps{Service: svc}), http.MethodPost, "/property/similar",
				`{"street":"4 Fiorenza Drive","city":"Wilmington","state":"MA","zip_code":"01887"}`)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, out["error"])
			assert.NotEmpty(t, out["detail"])
		})
	}
}

func TestSearchIsArchived(t *testing.T) {
	svc := &mockSearcher{}
	svc.On("FindSimilarProperties", mock.Anything, mock.Anything, mock.Anything).
		Return(sampleResult(comps.ModeSimilar, 2), nil)
	arch := make(chanRecorder, 1)

	rec, _ := do(t, newRouter(CompsDeps{Service: svc, Archive: arch}), http.MethodPost, "/property/similar",
		`{"street":"4 Fiorenza Drive","city":"Wilmington","state":"MA","zip_code":"01887"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case err := <-arch:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("search not archived")
	}
}
