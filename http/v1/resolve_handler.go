package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	httpapi "github.com/yourorg/comps-api/http"
	"github.com/yourorg/comps-api/internal/canon"
	"github.com/yourorg/comps-api/internal/comps"
)

// Resolver is the subject lookup behind /v1/properties/resolve.
type Resolver interface {
	Resolve(ctx context.Context, addr comps.AddressComponents) (comps.SubjectProperty, error)
}

type ResolveDeps struct {
	Resolver Resolver
}

type ResolveRequest struct {
	Street string `json:"street"`
	// Address is accepted as an alias of Street, or as a full one-line
	// address when the other fields are empty.
	Address string `json:"address,omitempty"`
	City    string `json:"city"`
	County  string `json:"county,omitempty"`
	State   string `json:"state"`
	Zip     string `json:"zip_code"`
}

func RegisterResolve(r chi.Router, d ResolveDeps) {
	r.Route("/v1/properties", func(r chi.Router) {
		r.Post("/resolve", func(w http.ResponseWriter, req *http.Request) {
			var body ResolveRequest
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				render.Status(req, http.StatusBadRequest)
				render.JSON(w, req, map[string]any{"error": "invalid_json", "detail": err.Error()})
				return
			}
			resolve(w, req, d, body)
		})
		r.Get("/resolve", func(w http.ResponseWriter, req *http.Request) {
			q := req.URL.Query()
			body := ResolveRequest{
				Street:  q.Get("street"),
				Address: q.Get("address"),
				City:    q.Get("city"),
				County:  q.Get("county"),
				State:   q.Get("state"),
				Zip:     firstNonEmpty(q.Get("zip_code"), q.Get("zip")),
			}
			resolve(w, req, d, body)
		})
	})
}

func (b ResolveRequest) components() comps.AddressComponents {
	street := firstNonEmpty(strings.TrimSpace(b.Street), strings.TrimSpace(b.Address))
	if b.City == "" && b.State == "" && b.Zip == "" {
		return canon.ParseOneLine(street)
	}
	return comps.AddressComponents{
		Street: street,
		City:   strings.TrimSpace(b.City),
		County: strings.TrimSpace(b.County),
		State:  strings.TrimSpace(b.State),
		Zip:    strings.TrimSpace(b.Zip),
	}
}

func resolve(w http.ResponseWriter, req *http.Request, d ResolveDeps, body ResolveRequest) {
	addr := body.components()
	if addr.Street == "" || addr.City == "" || addr.State == "" || addr.Zip == "" {
		render.Status(req, http.StatusBadRequest)
		render.JSON(w, req, map[string]any{"error": "address_required", "detail": "street, city, state, zip_code are required"})
		return
	}
	line1, city, st, zip, _ := canon.Canonicalize(addr.Street, addr.City, addr.State, addr.Zip)
	pkey := canon.UnitKey(addr)

	subject, err := d.Resolver.Resolve(req.Context(), addr)
	if err != nil {
		status, code := httpapi.ErrorStatus(err)
		render.Status(req, status)
		render.JSON(w, req, map[string]any{"error": code, "detail": err.Error(), "property_key": pkey})
		return
	}

	render.JSON(w, req, map[string]any{
		"ok":           true,
		"property_key": pkey,
		"normalized": map[string]string{
			"line1":    line1,
			"unit":     canon.Unit(addr.Street),
			"city":     city,
			"state":    st,
			"zip":      zip,
			"one_line": canon.Normalize(addr),
		},
		"subject": subject,
	})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
