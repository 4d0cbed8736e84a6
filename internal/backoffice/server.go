// Package backoffice is a small in-memory back office: it takes sales,
// publishes exchange rates and answers health probes. It exists for local
// runs of the register and for tests of the remote client.
//
// Sale intake is idempotent on the sale number. A sale without one gets a
// server-issued number; a sale whose number is already recorded for the
// company is answered as a duplicate and not recorded again.
package backoffice

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/roach88/cashier/internal/checkout"
)

// Server holds recorded sales and the rate table.
//
// Thread-safety: all methods are safe for concurrent use.
type Server struct {
	mu    sync.Mutex
	sales map[string][]checkout.SalePayload
	seen  map[string]map[string]bool
	seq   int
	rates map[string]decimal.Decimal
}

// NewServer returns an empty back office.
func NewServer() *Server {
	return &Server{
		sales: map[string][]checkout.SalePayload{},
		seen:  map[string]map[string]bool{},
		rates: map[string]decimal.Decimal{},
	}
}

func pairKey(from, to string) string {
	return strings.ToUpper(from) + "/" + strings.ToUpper(to)
}

// SetRate publishes the rate quoted for converting from into to.
func (s *Server) SetRate(from, to string, rate decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[pairKey(from, to)] = rate
}

// Sales returns the sales recorded for companyID in arrival order.
func (s *Server) Sales(companyID string) []checkout.SalePayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]checkout.SalePayload(nil), s.sales[companyID]...)
}

// Handler returns the router serving the back office API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	s.RegisterRoutes(r)
	return r
}

// RegisterRoutes mounts the API on r.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", s.health)
	r.Get("/v1/rates", s.rate)
	r.Route("/v1/companies/{companyID}/sales", func(r chi.Router) {
		r.Post("/", s.recordSale)
		r.Get("/", s.listSales)
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

type rateResponse struct {
	From string          `json:"from"`
	To   string          `json:"to"`
	Rate decimal.Decimal `json:"rate"`
}

func (s *Server) rate(w http.ResponseWriter, r *http.Request) {
	from := strings.ToUpper(r.URL.Query().Get("from"))
	to := strings.ToUpper(r.URL.Query().Get("to"))
	if from == "" || to == "" {
		respondError(w, http.StatusBadRequest, "from and to are required")
		return
	}
	if from == to {
		respond(w, http.StatusOK, rateResponse{From: from, To: to, Rate: decimal.NewFromInt(1)})
		return
	}

	s.mu.Lock()
	rate, ok := s.rates[pairKey(from, to)]
	s.mu.Unlock()
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Sprintf("no rate for %s/%s", from, to))
		return
	}
	respond(w, http.StatusOK, rateResponse{From: from, To: to, Rate: rate})
}

func (s *Server) recordSale(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")

	var sale checkout.SalePayload
	if err := json.NewDecoder(r.Body).Decode(&sale); err != nil {
		respondError(w, http.StatusBadRequest, "invalid sale: "+err.Error())
		return
	}
	if sale.CompanyID != "" && sale.CompanyID != companyID {
		respondError(w, http.StatusUnprocessableEntity,
			fmt.Sprintf("sale belongs to company %q, not %q", sale.CompanyID, companyID))
		return
	}
	if len(sale.Items) == 0 {
		respondError(w, http.StatusUnprocessableEntity, "sale has no items")
		return
	}
	if sale.TotalAfter.IsNegative() {
		respondError(w, http.StatusUnprocessableEntity, "sale total must not be negative")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := s.seen[companyID]
	if seen == nil {
		seen = map[string]bool{}
		s.seen[companyID] = seen
	}
	if sale.SaleNumber != "" && seen[sale.SaleNumber] {
		slog.Info("duplicate sale ignored", "company", companyID, "sale_number", sale.SaleNumber)
		respond(w, http.StatusOK, checkout.SaleRecord{SaleNumber: sale.SaleNumber, Status: checkout.StatusDuplicate})
		return
	}

	if sale.SaleNumber == "" {
		s.seq++
		sale.SaleNumber = fmt.Sprintf("S-%06d", s.seq)
	}
	sale.CompanyID = companyID
	seen[sale.SaleNumber] = true
	s.sales[companyID] = append(s.sales[companyID], sale)

	slog.Info("sale recorded", "company", companyID, "sale_number", sale.SaleNumber, "total", sale.TotalAfter)
	respond(w, http.StatusCreated, checkout.SaleRecord{SaleNumber: sale.SaleNumber, Status: checkout.StatusAccepted})
}

func (s *Server) listSales(w http.ResponseWriter, r *http.Request) {
	sales := s.Sales(chi.URLParam(r, "companyID"))
	if sales == nil {
		sales = []checkout.SalePayload{}
	}
	respond(w, http.StatusOK, sales)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start))
	})
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respond(w, status, map[string]string{"error": msg})
}

func respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("encode response", "error", err)
	}
}
