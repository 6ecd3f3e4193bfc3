package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/microcosm-cc/bluemonday"
	"github.com/sembalun/guard/internal/auth"
	"github.com/sembalun/guard/internal/models"
	"github.com/sembalun/guard/internal/services"
	pkghttp "github.com/sembalun/guard/pkg/http"
)

// AuditServiceInterface is the read and write surface of the security audit log
type AuditServiceInterface interface {
	Log(ctx context.Context, event string, details map[string]interface{}, opts models.LogOptions) models.AuditLogEntry
	GetRecentLogs(ctx context.Context, limit int) []models.AuditLogEntry
	GetLogsByUser(ctx context.Context, userID string, limit int) []models.AuditLogEntry
	GetArchivedLogsByUser(ctx context.Context, userID string, limit, offset int) ([]models.AuditLogEntry, error)
	GetSecurityAlerts(ctx context.Context, limit int) []models.AuditLogEntry
	GetArchivedSecurityAlerts(ctx context.Context, limit int) ([]models.AuditLogEntry, error)
}

// AuditHandler handles audit log HTTP requests
type AuditHandler struct {
	audit     AuditServiceInterface
	sanitizer *bluemonday.Policy
	ipConfig  *pkghttp.IPConfig
}

// NewAuditHandler creates a new AuditHandler. Client-supplied text is stripped of all markup.
func NewAuditHandler(audit AuditServiceInterface, ipConfig *pkghttp.IPConfig) *AuditHandler {
	return &AuditHandler{
		audit:     audit,
		sanitizer: bluemonday.StrictPolicy(),
		ipConfig:  ipConfig,
	}
}

// ClientEventRequest is a security event observed by a client, e.g. a
// suspected phishing page or a tampered local store
type ClientEventRequest struct {
	Event    string            `json:"event" validate:"required,max=64,printascii"`
	Severity string            `json:"severity" validate:"omitempty,oneof=low medium high"`
	Details  map[string]string `json:"details" validate:"max=20,dive,keys,max=64,endkeys,max=512"`
}

// AuditLogListResponse wraps audit entries
type AuditLogListResponse struct {
	Logs   []models.AuditLogEntry `json:"logs"`
	Count  int                    `json:"count"`
	Source string                 `json:"source"`
}

func listResponse(logs []models.AuditLogEntry, source string) AuditLogListResponse {
	if logs == nil {
		logs = []models.AuditLogEntry{}
	}
	return AuditLogListResponse{Logs: logs, Count: len(logs), Source: source}
}

// ReportEvent records a client-reported event. Clients cannot raise critical alerts.
// @Router /audit/events [post]
func (h *AuditHandler) ReportEvent(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req ClientEventRequest
	if err := decodeJSON(r, w, &req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	severity := models.SeverityLow
	if req.Severity != "" {
		parsed, err := models.ParseSeverity(req.Severity)
		if err != nil {
			pkghttp.WriteBadRequest(w, "unknown severity")
			return
		}
		severity = parsed
	}

	details := make(map[string]interface{}, len(req.Details)+1)
	for k, v := range req.Details {
		key := strings.TrimSpace(h.sanitizer.Sanitize(k))
		if key == "" || key == "client_event" {
			continue
		}
		details[key] = h.sanitizer.Sanitize(v)
	}
	details["client_event"] = h.sanitizer.Sanitize(req.Event)

	entry := h.audit.Log(r.Context(), models.AuditEventClientReported, details, models.LogOptions{
		UserID:    claims.UserID,
		SessionID: claims.SessionID,
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		Severity:  severity,
	})

	pkghttp.WriteJSON(w, http.StatusAccepted, map[string]string{"id": entry.ID})
}

// GetRecent returns the newest entries in the in-memory log
// @Router /admin/audit/recent [get]
func (h *AuditHandler) GetRecent(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", services.DefaultAuditQueryLimit)
	pkghttp.WriteJSON(w, http.StatusOK, listResponse(h.audit.GetRecentLogs(r.Context(), limit), "memory"))
}

// GetAlerts returns high and critical entries, newest first. ?source=archive
// also finds alerts already rotated out of memory.
// @Router /admin/audit/alerts [get]
func (h *AuditHandler) GetAlerts(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", services.DefaultAuditQueryLimit)

	switch r.URL.Query().Get("source") {
	case "", "memory":
		pkghttp.WriteJSON(w, http.StatusOK, listResponse(h.audit.GetSecurityAlerts(r.Context(), limit), "memory"))
	case "archive":
		logs, err := h.audit.GetArchivedSecurityAlerts(r.Context(), limit)
		if err != nil {
			writeArchiveError(w, err)
			return
		}
		pkghttp.WriteJSON(w, http.StatusOK, listResponse(logs, "archive"))
	default:
		pkghttp.WriteBadRequest(w, "source must be memory or archive")
	}
}

func writeArchiveError(w http.ResponseWriter, err error) {
	if errors.Is(err, models.ErrNotFound) {
		pkghttp.WriteNotFound(w, "audit archive is not enabled")
		return
	}
	pkghttp.WriteInternalError(w, "Failed to retrieve audit logs")
}

// GetUserLogs returns a user's audit trail. ?source=archive reads the
// durable store and supports offset paging.
// @Router /admin/audit/users/{id} [get]
func (h *AuditHandler) GetUserLogs(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "id"))
	if userID == "" {
		pkghttp.WriteBadRequest(w, "user id is required")
		return
	}

	limit := queryInt(r, "limit", services.DefaultAuditQueryLimit)

	switch r.URL.Query().Get("source") {
	case "", "memory":
		pkghttp.WriteJSON(w, http.StatusOK, listResponse(h.audit.GetLogsByUser(r.Context(), userID, limit), "memory"))
	case "archive":
		offset := queryInt(r, "offset", 0)
		if offset < 0 {
			pkghttp.WriteBadRequest(w, "offset must not be negative")
			return
		}
		logs, err := h.audit.GetArchivedLogsByUser(r.Context(), userID, limit, offset)
		if err != nil {
			writeArchiveError(w, err)
			return
		}
		pkghttp.WriteJSON(w, http.StatusOK, listResponse(logs, "archive"))
	default:
		pkghttp.WriteBadRequest(w, "source must be memory or archive")
	}
}
