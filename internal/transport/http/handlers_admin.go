package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	consentmodels "vaultline/internal/consent/models"
	id "vaultline/pkg/domain"
	dErrors "vaultline/pkg/domain-errors"
	audit "vaultline/pkg/platform/audit"
	"vaultline/pkg/platform/httputil"
	"vaultline/pkg/requestcontext"
)

type Sweeper interface {
	CleanupExpiredIdentities(ctx context.Context) (int, error)
}

type ConsentReader interface {
	GetConsents(ctx context.Context, identityID id.IdentityID) ([]consentmodels.Record, error)
	Summary(ctx context.Context, identityID id.IdentityID) ([]consentmodels.Status, error)
}

type AuditReader interface {
	ListRecent(ctx context.Context, limit int) ([]audit.Entry, error)
}

// AdminHandler serves the operator API.
type AdminHandler struct {
	sweeper  Sweeper
	consents ConsentReader
	audits   AuditReader
	logger   *slog.Logger
}

func NewAdminHandler(sweeper Sweeper, consents ConsentReader, audits AuditReader, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{sweeper: sweeper, consents: consents, audits: audits, logger: logger}
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Post("/retention/sweep", h.handleSweep)
	r.Get("/identities/{id}/consents", h.handleConsents)
	r.Get("/audit", h.handleAudit)
}

type sweepResponse struct {
	Deleted int    `json:"deleted"`
	Error   string `json:"error,omitempty"`
}

// handleSweep runs one retention sweep. A partial failure still reports the
// identities that were deleted.
func (h *AdminHandler) handleSweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deleted, err := h.sweeper.CleanupExpiredIdentities(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "manual retention sweep failed",
			"request_id", requestcontext.RequestID(ctx),
			"deleted", deleted,
			"error", err.Error(),
		)
		httputil.WriteJSON(w, http.StatusInternalServerError, sweepResponse{
			Deleted: deleted,
			Error:   string(dErrors.CodeOf(err)),
		})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sweepResponse{Deleted: deleted})
}

type consentRecordResponse struct {
	ID            string            `json:"id"`
	Category      string            `json:"category"`
	Granted       bool              `json:"granted"`
	PolicyVersion string            `json:"policy_version"`
	Channel       string            `json:"channel,omitempty"`
	ExpiresAt     *time.Time        `json:"expires_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type consentsResponse struct {
	IdentityID string                  `json:"identity_id"`
	Current    []consentmodels.Status  `json:"current"`
	History    []consentRecordResponse `json:"history"`
}

// handleConsents returns the ledger for an identity. Lookup hashes, IPs and
// user agents stay out of the response.
func (h *AdminHandler) handleConsents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identityID, err := id.ParseIdentityID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	records, err := h.consents.GetConsents(ctx, identityID)
	if err != nil {
		h.writeInternal(ctx, w, "load consent history", err)
		return
	}
	if len(records) == 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "no consent records for identity"))
		return
	}
	summary, err := h.consents.Summary(ctx, identityID)
	if err != nil {
		h.writeInternal(ctx, w, "summarize consents", err)
		return
	}

	resp := consentsResponse{
		IdentityID: identityID.String(),
		Current:    summary,
		History:    make([]consentRecordResponse, 0, len(records)),
	}
	for _, rec := range records {
		resp.History = append(resp.History, consentRecordResponse{
			ID:            rec.ID.String(),
			Category:      string(rec.Category),
			Granted:       rec.Granted,
			PolicyVersion: rec.PolicyVersion,
			Channel:       rec.Channel,
			ExpiresAt:     rec.ExpiresAt,
			CreatedAt:     rec.CreatedAt,
			Metadata:      rec.Metadata,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

type auditEntryResponse struct {
	ID         string            `json:"id"`
	Seq        int64             `json:"seq"`
	IdentityID string            `json:"identity_id,omitempty"`
	Action     string            `json:"action"`
	Actor      string            `json:"actor"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

func (h *AdminHandler) handleAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "limit must be a positive integer"))
			return
		}
		limit = min(n, maxAuditLimit)
	}

	entries, err := h.audits.ListRecent(ctx, limit)
	if err != nil {
		h.writeInternal(ctx, w, "list audit entries", err)
		return
	}
	out := make([]auditEntryResponse, 0, len(entries))
	for _, e := range entries {
		item := auditEntryResponse{
			ID:        e.ID.String(),
			Seq:       e.Seq,
			Action:    string(e.Action),
			Actor:     e.Actor,
			Timestamp: e.Timestamp,
			Metadata:  e.Metadata,
		}
		if !e.IdentityID.IsNil() {
			item.IdentityID = e.IdentityID.String()
		}
		out = append(out, item)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entries": out})
}

func (h *AdminHandler) writeInternal(ctx context.Context, w http.ResponseWriter, op string, err error) {
	h.logger.ErrorContext(ctx, "admin request failed",
		"op", op,
		"request_id", requestcontext.RequestID(ctx),
		"error", err.Error(),
	)
	httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, op+" failed"))
}
