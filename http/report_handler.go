package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/rs/zerolog/log"

	"github.com/yourorg/comps-api/internal/canon"
	"github.com/yourorg/comps-api/internal/comps"
	"github.com/yourorg/comps-api/internal/report"
	"github.com/yourorg/comps-api/internal/store"
)

// Reporter is the report.Service surface the handlers use.
type Reporter interface {
	Property(ctx context.Context, addr comps.AddressComponents, kind report.Kind) (report.PropertyReport, error)
	Complete(ctx context.Context, addr comps.AddressComponents) (report.CompleteReport, error)
	AssessmentHistory(ctx context.Context, addr comps.AddressComponents) (report.AssessmentHistoryReport, error)
	AllEvents(ctx context.Context, addr comps.AddressComponents) (report.EventsReport, error)
	Batch(ctx context.Context, addresses []string, kind report.Kind) (report.BatchReport, error)
}

// History lists archived searches; *hydrator.Hydrator implements it.
type History interface {
	SearchHistory(ctx context.Context, address string, limit int) ([]store.SearchRecord, error)
}

type ReportDeps struct {
	Reports Reporter
	// History is optional; without it the searches route is not mounted.
	History History
}

// ReportRequest takes either a one-line address or its parts.
type ReportRequest struct {
	addressFields
	Address string `json:"address,omitempty"`
}

func (r ReportRequest) components() comps.AddressComponents {
	if a := strings.TrimSpace(r.Address); a != "" {
		return canon.ParseOneLine(a)
	}
	return r.addressFields.components()
}

type BatchRequest struct {
	Addresses  []string `json:"addresses"`
	ReportType string   `json:"report_type,omitempty"`
}

const maxHistoryLimit = 50

func RegisterReports(r chi.Router, d ReportDeps) {
	property := func(kind report.Kind) http.HandlerFunc {
		return func(w http.ResponseWriter, req *http.Request) {
			addr, ok := decodeReportAddress(w, req)
			if !ok {
				return
			}
			rep, err := d.Reports.Property(req.Context(), addr, kind)
			respondReport(w, req, rep, err)
		}
	}
	r.Post("/property/avm", property(report.KindAVM))
	r.Post("/property/basic", property(report.KindBasic))
	r.Post("/property/combined", property(report.KindCombined))

	r.Post("/property/complete", func(w http.ResponseWriter, req *http.Request) {
		addr, ok := decodeReportAddress(w, req)
		if !ok {
			return
		}
		rep, err := d.Reports.Complete(req.Context(), addr)
		respondReport(w, req, rep, err)
	})

	r.Post("/property/assessmenthistory", func(w http.ResponseWriter, req *http.Request) {
		addr, ok := decodeReportAddress(w, req)
		if !ok {
			return
		}
		rep, err := d.Reports.AssessmentHistory(req.Context(), addr)
		respondReport(w, req, rep, err)
	})

	r.Post("/property/allevents", func(w http.ResponseWriter, req *http.Request) {
		addr, ok := decodeReportAddress(w, req)
		if !ok {
			return
		}
		rep, err := d.Reports.AllEvents(req.Context(), addr)
		respondReport(w, req, rep, err)
	})

	r.Post("/property/batch", func(w http.ResponseWriter, req *http.Request) {
		var body BatchRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, req, http.StatusBadRequest, "invalid_json", err.Error())
			return
		}
		switch {
		case len(body.Addresses) == 0:
			writeError(w, req, http.StatusBadRequest, "addresses_required", "addresses must list at least one address")
			return
		case len(body.Addresses) > report.MaxBatch:
			writeError(w, req, http.StatusBadRequest, "too_many_addresses",
				"at most "+strconv.Itoa(report.MaxBatch)+" addresses per batch")
			return
		}
		kind, ok := report.ParseKind(body.ReportType)
		if !ok {
			writeError(w, req, http.StatusBadRequest, "invalid_report_type", "report_type must be combined, avm or basic")
			return
		}
		rep, err := d.Reports.Batch(req.Context(), body.Addresses, kind)
		if err != nil {
			respondReport(w, req, rep, err)
			return
		}
		for i, e := range rep.Results {
			if !e.OK {
				_, rep.Results[i].Error = ErrorStatus(e.Err())
			}
		}
		render.JSON(w, req, rep)
	})

	if d.History == nil {
		return
	}
	r.Get("/property/searches", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		address := strings.TrimSpace(q.Get("address"))
		if address == "" {
			writeError(w, req, http.StatusBadRequest, "address_required", "address is required")
			return
		}
		limit := 10
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n > maxHistoryLimit {
				writeError(w, req, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 50")
				return
			}
			limit = n
		}
		recs, err := d.History.SearchHistory(req.Context(), address, limit)
		if err != nil {
			status, code := ErrorStatus(err)
			if status >= http.StatusInternalServerError {
				log.Error().Err(err).Str("path", req.URL.Path).Msg("search history failed")
			}
			writeError(w, req, status, code, err.Error())
			return
		}
		render.JSON(w, req, map[string]any{"ok": true, "count": len(recs), "searches": recs})
	})
}

func decodeReportAddress(w http.ResponseWriter, req *http.Request) (comps.AddressComponents, bool) {
	var body ReportRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, req, http.StatusBadRequest, "invalid_json", err.Error())
		return comps.AddressComponents{}, false
	}
	addr := body.components()
	if !validAddress(w, req, addr) {
		return comps.AddressComponents{}, false
	}
	return addr, true
}

func respondReport(w http.ResponseWriter, req *http.Request, rep any, err error) {
	if err != nil {
		status, code := ErrorStatus(err)
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).Str("path", req.URL.Path).Msg("property report failed")
		}
		writeError(w, req, status, code, err.Error())
		return
	}
	render.JSON(w, req, rep)
}
