package comps

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yourorg/comps-api/internal/geo"
)

var subjectAt = geo.Coordinate{Latitude: 42.556714, Longitude: -71.187637}

func testSubject() SubjectProperty {
	return SubjectProperty{
		Address:       "4 FIORENZA DR, WILMINGTON, MA 01887",
		Key:           CandidateProperty{Address: "4 FIORENZA DR, WILMINGTON, MA 01887"}.Key(),
		Coordinate:    subjectAt,
		Bedrooms:      ptr(3),
		Bathrooms:     ptr(3.0),
		SquareFootage: ptr(3053),
		PropertyType:  ptr("SFR"),
		AVMValue:      ptr(1_000_000.0),
	}
}

// house returns a candidate n hundredths of a mile-ish north of the subject.
func house(n, beds int, baths float64, sqft int) CandidateProperty {
	return CandidateProperty{
		Address:       fmt.Sprintf("%d ELM ST, WILMINGTON, MA 01887", n),
		Coordinate:    geo.Coordinate{Latitude: subjectAt.Latitude + float64(n)*0.0001, Longitude: subjectAt.Longitude},
		Bedrooms:      ptr(beds),
		Bathrooms:     ptr(baths),
		SquareFootage: ptr(sqft),
		PropertyType:  ptr("SFR"),
	}
}

func matchingHouses(from, count int) []CandidateProperty {
	out := make([]CandidateProperty, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, house(from+i, 3, 3.0, 3000))
	}
	return out
}

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

// fakeProvider answers geo queries through geoFn and enrichment through
// enrichFn, recording calls.
type fakeProvider struct {
	resolveFn func(AddressComponents) ([]CandidateProperty, error)
	geoFn     func(radius float64) ([]CandidateProperty, error)
	enrichFn  func(address string) (Valuation, error)

	mu          sync.Mutex
	radii       []float64
	constraints []GeoConstraints
	enrichCalls int32
	inFlight    int32
	maxInFlight int32
}

func (f *fakeProvider) GeoSearch(_ context.Context, _ geo.Coordinate, radius float64, c GeoConstraints) ([]CandidateProperty, error) {
	f.mu.Lock()
	f.radii = append(f.radii, radius)
	f.constraints = append(f.constraints, c)
	f.mu.Unlock()
	return f.geoFn(radius)
}

func (f *fakeProvider) ResolveAddress(_ context.Context, a AddressComponents) ([]CandidateProperty, error) {
	return f.resolveFn(a)
}

func (f *fakeProvider) EnrichValue(_ context.Context, address string) (Valuation, error) {
	atomic.AddInt32(&f.enrichCalls, 1)
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		m := atomic.LoadInt32(&f.maxInFlight)
		if n <= m || atomic.CompareAndSwapInt32(&f.maxInFlight, m, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return f.enrichFn(address)
}

func (f *fakeProvider) queriedRadii() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.radii...)
}
