package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/stockcount/internal/core"
	"github.com/JonMunkholm/stockcount/internal/web/templates"
)

// defaultPerPage is the dashboard page size when per_page is absent.
const defaultPerPage = 50

// handleHealth reports whether the store answers and how busy imports are.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := map[string]any{
		"status":  "ok",
		"imports": s.service.Limiter().Status(),
	}
	if err := s.service.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "unavailable"
		body["error"] = core.MapError(err).Message
	}
	writeJSON(w, status, body)
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.service.ListProducts(r.Context(), orgID(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

// handleGetProduct returns the product with its counted total and class.
func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	pc, err := s.service.GetProduct(r.Context(), orgID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pc)
}

// handleFindBySKU looks a product up by exact SKU, as a scanner would.
func (s *Server) handleFindBySKU(w http.ResponseWriter, r *http.Request) {
	p, err := s.service.FindBySKU(r.Context(), orgID(r), chi.URLParam(r, "sku"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleRecentCounts returns the newest count events, newest first.
func (s *Server) handleRecentCounts(w http.ResponseWriter, r *http.Request) {
	n := parseIntParam(r, "n", core.DefaultRecentCounts)
	counts, err := s.service.RecentCounts(r.Context(), orgID(r), n)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// dashboardQuery reads view, store, location, page and per_page.
func dashboardQuery(r *http.Request) core.DashboardQuery {
	q := r.URL.Query()
	return core.DashboardQuery{
		View: core.View{
			Mode:     core.ViewMode(q.Get("view")),
			Store:    q.Get("store"),
			Location: q.Get("location"),
		},
		Page:    parseIntParam(r, "page", 1),
		PerPage: parseIntParam(r, "per_page", defaultPerPage),
	}
}

// handleDashboard returns the summary and one page of classified products.
// HTMX requests get the table fragment.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.service.Dashboard(r.Context(), orgID(r), dashboardQuery(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := templates.ItemsTable(d).Render(r.Context(), w); err != nil {
			s.respondError(w, r, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleDashboardPage renders the full progress page.
func (s *Server) handleDashboardPage(w http.ResponseWriter, r *http.Request) {
	org, err := s.service.Organization(r.Context(), orgID(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	d, err := s.service.Dashboard(r.Context(), org.ID, dashboardQuery(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.DashboardPage(org, d).Render(r.Context(), w); err != nil {
		s.respondError(w, r, err)
	}
}

// handleExport downloads a CSV report.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	kind, err := core.ParseReportKind(chi.URLParam(r, "kind"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	rep, err := s.service.Export(r.Context(), orgID(r), kind, time.Time{})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, rep.Filename))
	w.Write([]byte(rep.Content))
}

// handleReload rebuilds the organization's snapshot from the store, for
// clients that suspect they missed changes.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Reload(r.Context(), orgID(r)); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
