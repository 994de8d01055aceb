package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/R3E-Network/tokenization_layer/internal/pipeline"
	"github.com/R3E-Network/tokenization_layer/internal/storage"
	"github.com/R3E-Network/tokenization_layer/internal/tokens"
)

// ContentTypeNDJSON is the media type of streamed event responses.
const ContentTypeNDJSON = "application/x-ndjson"

// startRecord creates the audit record for an accepted action. Audit failures
// are logged and never fail the action.
func (h *Handler) startRecord(ctx context.Context, actx tokens.ActionContext, action, assetType string) *storage.ActionRecord {
	rec, err := h.deps.Repository.Create(context.WithoutCancel(ctx), storage.ActionRecord{
		UserID:    actx.User.ID,
		Action:    action,
		AssetType: assetType,
		Status:    string(pipeline.PhasePreparing),
	})
	if err != nil {
		h.deps.Logger.Error(ctx, "Failed to create action record", err, map[string]interface{}{"action": action})
		return nil
	}
	return &rec
}

// audit folds ev into rec and persists it. The write outlives the request so a
// client disconnect still leaves the last observed phase recorded.
func (h *Handler) audit(ctx context.Context, rec *storage.ActionRecord, ev pipeline.Event) {
	if rec == nil {
		return
	}
	rec.Apply(ev)
	updated, err := h.deps.Repository.Update(context.WithoutCancel(ctx), *rec)
	if err != nil {
		h.deps.Logger.Warn(ctx, "Failed to update action record", map[string]interface{}{
			"action_id": rec.ID,
			"error":     err.Error(),
		})
		return
	}
	*rec = updated
}

// streamNDJSON writes one JSON event per line, flushing after each.
func (h *Handler) streamNDJSON(w http.ResponseWriter, r *http.Request, rec *storage.ActionRecord, events <-chan pipeline.Event) {
	w.Header().Set("Content-Type", ContentTypeNDJSON)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if rec != nil {
		w.Header().Set("X-Action-ID", rec.ID)
	}
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	for ev := range events {
		h.audit(r.Context(), rec, ev)
		if err := enc.Encode(ev); err != nil {
			h.deps.Logger.Warn(r.Context(), "Event stream write failed", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}
