package web

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/stockcount/internal/core"
	"github.com/JonMunkholm/stockcount/internal/web/templates"
)

// handleCreateProduct adds one product to the catalog.
func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var in core.ProductInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.respondError(w, r, err)
		return
	}

	p, err := s.service.CreateProduct(r.Context(), orgID(r), in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// handleUpdateProduct overwrites the fields present in the body.
func (s *Server) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var u core.ProductUpdate
	if err := decodeJSON(w, r, &u); err != nil {
		s.respondError(w, r, err)
		return
	}

	p, err := s.service.UpdateProduct(r.Context(), orgID(r), chi.URLParam(r, "id"), u)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteProduct(r.Context(), orgID(r), chi.URLParam(r, "id")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type idsRequest struct {
	IDs []string `json:"ids"`
}

// handleDeleteProducts deletes the listed products. Their count history stays.
func (s *Server) handleDeleteProducts(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	n, err := s.service.DeleteProducts(r.Context(), orgID(r), req.IDs)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

// handleDeleteAllProducts clears the catalog. Requires ?confirm=true.
func (s *Server) handleDeleteAllProducts(w http.ResponseWriter, r *http.Request) {
	n, err := s.service.DeleteAllProducts(r.Context(), orgID(r), confirmed(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

// handleBulkExpectedStock sets one expected stock on every listed product.
func (s *Server) handleBulkExpectedStock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs           []string `json:"ids"`
		ExpectedStock *int     `json:"expected_stock"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if req.ExpectedStock == nil {
		s.respondError(w, r, core.ErrEmptyUpdate)
		return
	}

	updated, err := s.service.BulkUpdateExpectedStock(r.Context(), orgID(r), req.IDs, *req.ExpectedStock)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": len(updated), "products": updated})
}

// countResponse writes res as JSON, or as a fragment for HTMX scanners.
func (s *Server) countResponse(w http.ResponseWriter, r *http.Request, status int, res core.CountResult, applied bool) {
	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		if err := templates.CountResult(res).Render(r.Context(), w); err != nil {
			s.respondError(w, r, err)
		}
		return
	}
	writeJSON(w, status, struct {
		core.CountResult
		Applied bool `json:"applied"`
	}{res, applied})
}

// handleScan adds one to the product whose SKU matches exactly.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SKU         string `json:"sku"`
		CounterName string `json:"counter_name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	ctx := withCounterName(r.Context(), req.CounterName)
	res, err := s.service.RecordScan(ctx, orgID(r), req.SKU)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.countResponse(w, r, http.StatusCreated, res, true)
}

// handleDelta records a signed adjustment.
func (s *Server) handleDelta(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID   string `json:"product_id"`
		Amount      int    `json:"amount"`
		CounterName string `json:"counter_name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	ctx := withCounterName(r.Context(), req.CounterName)
	res, err := s.service.ApplyDelta(ctx, orgID(r), req.ProductID, req.Amount)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.countResponse(w, r, http.StatusCreated, res, true)
}

// totalInput takes the desired total as a JSON string or number. Anything
// else is kept as raw text so the service reports it with the current total.
type totalInput string

func (t *totalInput) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = totalInput(s)
		return nil
	}
	*t = totalInput(bytes.TrimSpace(b))
	return nil
}

// handleAbsolute sets a product's total by recording the difference. A total
// equal to the current one records nothing and answers 200 with applied=false.
func (s *Server) handleAbsolute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID   string `json:"product_id"`
		Total       totalInput `json:"total"`
		CounterName string     `json:"counter_name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	ctx := withCounterName(r.Context(), req.CounterName)
	res, applied, err := s.service.ApplyAbsolute(ctx, orgID(r), req.ProductID, string(req.Total))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	status := http.StatusOK
	if applied {
		status = http.StatusCreated
	}
	s.countResponse(w, r, status, res, applied)
}

// handleResetCounts deletes every count record. Requires ?confirm=true.
func (s *Server) handleResetCounts(w http.ResponseWriter, r *http.Request) {
	n, err := s.service.ResetCounts(r.Context(), orgID(r), confirmed(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}
