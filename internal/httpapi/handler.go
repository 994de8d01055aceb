// Package httpapi exposes token creation, token actions and transaction
// status over HTTP. Action progress is streamed as NDJSON or over a websocket.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"

	"github.com/R3E-Network/tokenization_layer/internal/chain"
	"github.com/R3E-Network/tokenization_layer/internal/challenge"
	"github.com/R3E-Network/tokenization_layer/internal/compliance"
	apperrors "github.com/R3E-Network/tokenization_layer/internal/errors"
	"github.com/R3E-Network/tokenization_layer/internal/httputil"
	"github.com/R3E-Network/tokenization_layer/internal/logging"
	"github.com/R3E-Network/tokenization_layer/internal/middleware"
	"github.com/R3E-Network/tokenization_layer/internal/pipeline"
	"github.com/R3E-Network/tokenization_layer/internal/status"
	"github.com/R3E-Network/tokenization_layer/internal/storage"
	"github.com/R3E-Network/tokenization_layer/internal/tokens"
)

// Creator starts token creation.
type Creator interface {
	Dispatch(ctx context.Context, assetType tokens.AssetType, input tokens.CreateInput, actx tokens.ActionContext) (<-chan pipeline.Event, error)
}

// Executor starts actions on existing tokens.
type Executor interface {
	Execute(ctx context.Context, action string, token common.Address, in tokens.ActionInput, actx tokens.ActionContext) (<-chan pipeline.Event, error)
}

// Classifier classifies transactions.
type Classifier interface {
	Classify(ctx context.Context, hash common.Hash) (status.Status, error)
}

// Deps are the services behind the API.
type Deps struct {
	Creator       Creator
	Actions       Executor
	Status        Classifier
	Repository    storage.Repository
	// Verifications is optional; without it verification deletion is not routed.
	Verifications challenge.Remover
	Logger        *logging.Logger
}

// Config tunes request handling.
type Config struct {
	// IndexingTimeout is how long creation waits for the indexer, and how long
	// actions wait when the caller asks for it.
	IndexingTimeout time.Duration
	MaxBodyBytes    int64
	// AllowedOrigins for websocket upgrades. Empty means same origin only.
	AllowedOrigins []string
}

const defaultMaxBodyBytes = 1 << 20

// Handler serves the API.
type Handler struct {
	deps Deps
	cfg  Config
}

// NewHandler creates the API handler.
func NewHandler(deps Deps, cfg Config) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	return &Handler{deps: deps, cfg: cfg}
}

// Register adds the authenticated routes to router.
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/v1/tokens/{assetType}", h.handleCreate).Methods(http.MethodPost)
	router.HandleFunc("/v1/tokens/{address}/actions/{action}", h.handleAction).Methods(http.MethodPost)
	router.HandleFunc("/v1/actions/ws", h.handleWebsocket).Methods(http.MethodGet)
	router.HandleFunc("/v1/actions", h.handleListActions).Methods(http.MethodGet)
	router.HandleFunc("/v1/transactions/{hash}", h.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/v1/compliance/encode", h.handleEncode).Methods(http.MethodPost)
	router.HandleFunc("/v1/compliance/decode", h.handleDecode).Methods(http.MethodPost)
	if h.deps.Verifications != nil {
		router.HandleFunc("/v1/verifications/{type}", h.handleDeleteVerification).Methods(http.MethodDelete)
	}
}

// HealthHandler reports liveness.
func HealthHandler(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{
			"status":    "healthy",
			"service":   service,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func (h *Handler) actionContext(r *http.Request, waitForIndexing bool) (tokens.ActionContext, error) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		return tokens.ActionContext{}, apperrors.Unauthorized("authentication required")
	}
	actx := tokens.ActionContext{User: user}
	if waitForIndexing {
		actx.IndexingTimeout = h.cfg.IndexingTimeout
	}
	return actx, nil
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actx, err := h.actionContext(r, true)
	if err != nil {
		httputil.WriteErrorResponse(w, err)
		return
	}
	assetType, err := tokens.ParseAssetType(mux.Vars(r)["assetType"])
	if err != nil {
		httputil.WriteErrorResponse(w, err)
		return
	}

	var input tokens.CreateInput
	if err := httputil.DecodeJSONBody(r, h.cfg.MaxBodyBytes, &input); err != nil {
		httputil.WriteErrorResponse(w, err)
		return
	}

	events, err := h.deps.Creator.Dispatch(r.Context(), assetType, input, actx)
	if err != nil {
		httputil.WriteErrorResponse(w, err)
		return
	}

	rec := h.startRecord(r.Context(), actx, "create-"+string(assetType), string(assetType))
	h.streamNDJSON(w, r, rec, events)
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	wait, _ := strconv.ParseBool(r.URL.Query().Get("waitForIndexing"))
	actx, err := h.actionContext(r, wait)
	if err != nil {
		httputil.WriteErrorResponse(w, err)
		return
	}

	vars := mux.Vars(r)
	token, err := chain.ParseAddress("address", vars["address"])
	if err != nil {
		httputil.WriteErrorResponse(w, err)
		return
	}

	var input tokens.ActionInput
	if err := httputil.DecodeJSONBody(r, h.cfg.MaxBodyBytes, &input); err != nil {
		httputil.WriteErrorResponse(w, err)
		return
	}

	events, err := h.deps.Actions.Execute(r.Context(), vars["action"], token, input, actx)
	if err != nil {
		httputil.WriteErrorResponse(w, err)
		return
	}

	rec := h.startRecord(r.Context(), actx, vars["action"], "")
	h.streamNDJSON(w, r, rec, events)
}

type statusResponse struct {
	status.Status
	Severity pipeline.Severity `json:"severity"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	hash, err := chain.ParseHash(mux.Vars(r)["hash"])
	if err != nil {
		httputil.WriteErrorResponse(w, err)
		return
	}

	st, err := h.deps.Status.Classify(r.Context(), hash)
	if err != nil {
		h.deps.Logger.Warn(r.Context(), "Status classification failed", map[string]interface{}{
			"tx_hash": hash.Hex(),
			"error":   err.Error(),
		})
		httputil.WriteErrorResponse(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, statusResponse{Status: st, Severity: st.Severity()})
}

func (h *Handler) handleListActions(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		httputil.WriteErrorResponse(w, apperrors.Unauthorized("authentication required"))
		return
	}

	limit := storage.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteErrorResponse(w, apperrors.InvalidInput("limit must be a positive integer"))
			return
		}
		limit = n
	}

	records, err := h.deps.Repository.ListByUser(r.Context(), user.ID, limit)
	if err != nil {
		httputil.WriteErrorResponse(w, err)
		return
	}
	if records == nil {
		records = []storage.ActionRecord{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"actions": records})
}

type encodedParams struct {
	TypeID compliance.ModuleType `json:"typeId"`
	Params string                `json:"params"`
}

func (h *Handler) handleEncode(w http.ResponseWriter, r *http.Request) {
	var cfg compliance.ModuleConfig
	if err := httputil.DecodeJSONBody(r, h.cfg.MaxBodyBytes, &cfg); err != nil {
		httputil.WriteErrorResponse(w, err)
		return
	}

	out, err := compliance.Encode(cfg)
	if err != nil {
		httputil.WriteErrorResponse(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, encodedParams{TypeID: cfg.TypeID, Params: "0x" + common.Bytes2Hex(out)})
}

func (h *Handler) handleDecode(w http.ResponseWriter, r *http.Request) {
	var req encodedParams
	if err := httputil.DecodeJSONBody(r, h.cfg.MaxBodyBytes, &req); err != nil {
		httputil.WriteErrorResponse(w, err)
		return
	}
	if !has0xPrefix(req.Params) {
		httputil.WriteErrorResponse(w, apperrors.InvalidInput("params must be 0x-prefixed hex"))
		return
	}
	data := common.FromHex(req.Params)

	cfg, err := compliance.Decode(req.TypeID, data)
	if err != nil {
		httputil.WriteErrorResponse(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cfg)
}

type deleteVerificationRequest struct {
	Credential challenge.Credential `json:"verification"`
}

func (h *Handler) handleDeleteVerification(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		httputil.WriteErrorResponse(w, apperrors.Unauthorized("authentication required"))
		return
	}
	target, err := challenge.ParseVerificationType(mux.Vars(r)["type"])
	if err != nil {
		httputil.WriteErrorResponse(w, err)
		return
	}

	var req deleteVerificationRequest
	if err := httputil.DecodeJSONBody(r, h.cfg.MaxBodyBytes, &req); err != nil {
		httputil.WriteErrorResponse(w, err)
		return
	}
	if err := challenge.ValidateFormat(req.Credential); err != nil {
		httputil.WriteErrorResponse(w, err)
		return
	}

	if err := challenge.DeleteVerification(r.Context(), h.deps.Verifications, user, target, req.Credential); err != nil {
		h.deps.Logger.LogSecurityEvent(r.Context(), "verification_delete_failed", map[string]interface{}{
			"user_id": user.ID,
			"type":    string(target),
			"code":    string(apperrors.CodeOf(err)),
		})
		httputil.WriteErrorResponse(w, err)
		return
	}
	h.deps.Logger.LogSecurityEvent(r.Context(), "verification_deleted", map[string]interface{}{
		"user_id": user.ID,
		"type":    string(target),
	})
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"deleted": string(target)})
}

func has0xPrefix(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}
