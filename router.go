package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-chi/render"

	httpapi "github.com/yourorg/comps-api/http"
	httpv1 "github.com/yourorg/comps-api/http/v1"
	"github.com/yourorg/comps-api/internal/comps"
	"github.com/yourorg/comps-api/internal/hydrator"
	"github.com/yourorg/comps-api/internal/logger"
	"github.com/yourorg/comps-api/internal/report"
)

func BuildRouter(svc *comps.Service, reports *report.Service, hydr *hydrator.Hydrator) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.Middleware)
	r.Use(httprate.LimitByIP(100, 1*time.Minute)) // protect upstream quota
	r.Use(render.SetContentType(render.ContentTypeJSON))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"ok":true}`)) })

	deps := httpapi.CompsDeps{Service: svc}
	rdeps := httpapi.ReportDeps{Reports: reports}
	if hydr.Enabled() {
		deps.Archive = hydr
		rdeps.History = hydr
	}
	httpapi.RegisterComps(r, deps)
	httpapi.RegisterReports(r, rdeps)
	httpv1.RegisterResolve(r, httpv1.ResolveDeps{Resolver: svc})

	return r
}
