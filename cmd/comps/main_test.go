package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/comps-api/internal/comps"
)

type stubSearcher struct {
	addr    comps.AddressComponents
	similar comps.SimilarOptions
	err     error
}

func (s *stubSearcher) FindSalesComparables(_ context.Context, addr comps.AddressComponents, _ comps.SalesOptions) (comps.ComparableSearchResult, error) {
	s.addr = addr
	return comps.ComparableSearchResult{
		Mode:             comps.ModeSales,
		Subject:          comps.SubjectProperty{Address: "4 FIORENZA DR, WILMINGTON, MA 01887"},
		FinalRadiusMiles: 5.5,
		Comparables:      []comps.EnrichedCandidate{},
	}, s.err
}

func (s *stubSearcher) FindSimilarProperties(_ context.Context, addr comps.AddressComponents, opts comps.SimilarOptions) (comps.ComparableSearchResult, error) {
	s.addr = addr
	s.similar = opts
	return comps.ComparableSearchResult{Mode: comps.ModeSimilar, FinalRadiusMiles: opts.RadiusMiles, Comparables: []comps.EnrichedCandidate{}}, s.err
}

func TestRunSalesPrintsJSON(t *testing.T) {
	svc := &stubSearcher{}
	var out, errOut bytes.Buffer
	code := run(context.Background(), svc, []string{"sales", "4 Fiorenza Drive, Wilmington, MA 01887"}, &out, &errOut)

	require.Equal(t, 0, code, errOut.String())
	assert.Equal(t, comps.AddressComponents{Street: "4 Fiorenza Drive", City: "Wilmington", State: "MA", Zip: "01887"}, svc.addr)
	var res map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, "sales", res["mode"])
}

func TestRunSimilarRadius(t *testing.T) {
	svc := &stubSearcher{}
	var out, errOut bytes.Buffer
	code := run(context.Background(), svc, []string{"similar", "4 Fiorenza Drive, Wilmington, MA 01887", "2.5"}, &out, &errOut)
	require.Equal(t, 0, code)
	assert.Equal(t, 2.5, svc.similar.RadiusMiles)
}

func TestRunNoComparablesExitsZero(t *testing.T) {
	svc := &stubSearcher{err: &comps.NoComparablesError{FinalRadiusMiles: 5.5, Iterations: 12}}
	var out, errOut bytes.Buffer
	code := run(context.Background(), svc, []string{"sales", "4 Fiorenza Drive, Wilmington, MA 01887"}, &out, &errOut)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "no comparables found for 4 FIORENZA DR, WILMINGTON, MA 01887 within 5.50 miles (12 queries)")
}

func TestRunErrors(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 1, run(context.Background(), &stubSearcher{err: comps.ErrNotFound}, []string{"sales", "1 A St, X, MA 01887"}, &out, &errOut))
	assert.Contains(t, errOut.String(), "property not found")

	assert.Equal(t, 2, run(context.Background(), &stubSearcher{}, []string{"rentals", "1 A St, X, MA 01887"}, &out, &errOut))
	assert.Equal(t, 2, run(context.Background(), &stubSearcher{}, []string{"sales", "1 A St"}, &out, &errOut))
	assert.Equal(t, 2, run(context.Background(), &stubSearcher{}, []string{"similar", "1 A St, X, MA 01887", "-1"}, &out, &errOut))
}
