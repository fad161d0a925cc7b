package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/notimo/notimo-api/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// decodeJSON reads the request body into v. Field errors raised while
// decoding (a malformed date, say) are returned as *domain.ErrValidation.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var validation *domain.ErrValidation
		if errors.As(err, &validation) {
			return validation
		}
		return &domain.ErrValidation{Field: "body", Message: "invalid request body"}
	}
	return nil
}

func parsePagination(r *http.Request) (page, pageSize int) {
	page = 1
	pageSize = 20
	if v := r.URL.Query().Get("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			page = p
		}
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if ps, err := strconv.Atoi(v); err == nil && ps > 0 && ps <= 100 {
			pageSize = ps
		}
	}
	return
}

// ============================================================
// Query filters. Malformed optional values mean "not applied".
// ============================================================

func firstQuery(r *http.Request, keys ...string) string {
	q := r.URL.Query()
	for _, k := range keys {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			return v
		}
	}
	return ""
}

func queryDate(r *http.Request, keys ...string) *domain.Date {
	v := firstQuery(r, keys...)
	if v == "" {
		return nil
	}
	d, err := domain.ParseDate(v)
	if err != nil {
		return nil
	}
	return &d
}

func queryTrack(r *http.Request) *domain.Track {
	t := domain.Track(firstQuery(r, "volet"))
	if !t.Valid() {
		return nil
	}
	return &t
}

// queryMonth accepts mois=YYYY-MM, or mois=M with annee=YYYY.
func queryMonth(r *http.Request) *domain.Month {
	v := firstQuery(r, "mois", "month")
	if v == "" {
		return nil
	}
	if t, err := time.Parse("2006-01", v); err == nil {
		return &domain.Month{Year: t.Year(), Month: t.Month()}
	}
	m, err := strconv.Atoi(v)
	if err != nil || m < 1 || m > 12 {
		return nil
	}
	y, err := strconv.Atoi(firstQuery(r, "annee", "year"))
	if err != nil || y < 1 || y > 9999 {
		return nil
	}
	return &domain.Month{Year: y, Month: time.Month(m)}
}

func parseTransactionFilter(r *http.Request) domain.TransactionFilter {
	f := domain.TransactionFilter{
		Track:      queryTrack(r),
		CategoryID: firstQuery(r, "categorie"),
		Search:     firstQuery(r, "search"),
		DateFrom:   queryDate(r, "date_debut", "date_from"),
		DateTo:     queryDate(r, "date_fin", "date_to"),
		Month:      queryMonth(r),
		Ordering:   firstQuery(r, "ordering"),
	}
	if p := domain.Position(firstQuery(r, "position")); p.Valid() {
		f.Position = &p
	}
	if s := domain.Status(firstQuery(r, "statut")); s.Valid() {
		f.Status = &s
	}
	return f
}

func parseStatisticsFilter(r *http.Request) domain.StatisticsFilter {
	return domain.StatisticsFilter{
		Track:    queryTrack(r),
		DateFrom: queryDate(r, "date_debut", "date_from"),
		DateTo:   queryDate(r, "date_fin", "date_to"),
	}
}

func parseCategoryFilter(r *http.Request, scope domain.CategoryScope) domain.CategoryFilter {
	f := domain.CategoryFilter{Scope: scope}
	if t := domain.CategoryType(firstQuery(r, "type", "type_categorie")); t.Valid() {
		f.Type = &t
	}
	if v := firstQuery(r, "active", "est_active"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			f.Active = &b
		}
	}
	return f
}

// ============================================================
// Error mapping
// ============================================================

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var notFound *domain.ErrNotFound
	var circuitOpen *domain.ErrCircuitOpen
	var external *domain.ErrExternalService
	var validation *domain.ErrValidation
	var forbidden *domain.ErrForbidden
	var unauthorized *domain.ErrUnauthorized
	var conflict *domain.ErrConflict

	switch {
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("field", validation.Field), zap.String("error", validation.Message))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: validation.Message, Field: validation.Field})
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, "Ressource introuvable.")
	case errors.As(err, &forbidden):
		logger.Warn("forbidden access", zap.String("error", err.Error()))
		writeError(w, http.StatusForbidden, forbidden.Action)
	case errors.As(err, &conflict):
		logger.Debug("conflict", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, conflict.Message)
	case errors.As(err, &unauthorized):
		logger.Warn("unauthorized", zap.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &external):
		logger.Error("external service error", zap.String("service", external.Service), zap.Error(err))
		writeError(w, http.StatusBadGateway, "external service error")
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
