package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/R3E-Network/tokenization_layer/internal/chain"
	apperrors "github.com/R3E-Network/tokenization_layer/internal/errors"
	"github.com/R3E-Network/tokenization_layer/internal/httputil"
	"github.com/R3E-Network/tokenization_layer/internal/pipeline"
	"github.com/R3E-Network/tokenization_layer/internal/storage"
	"github.com/R3E-Network/tokenization_layer/internal/tokens"
)

const (
	wsWriteTimeout   = 10 * time.Second
	wsRequestTimeout = 30 * time.Second
)

// wsRequest is the first message on an action websocket.
type wsRequest struct {
	// Kind is "create" or "action".
	Kind      string          `json:"kind"`
	AssetType string          `json:"assetType,omitempty"`
	Action    string          `json:"action,omitempty"`
	Token     string          `json:"token,omitempty"`
	Wait      bool            `json:"waitForIndexing,omitempty"`
	Input     json.RawMessage `json:"input"`
}

func (h *Handler) upgrader() websocket.Upgrader {
	u := websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096}
	if len(h.cfg.AllowedOrigins) > 0 {
		allowed := make(map[string]bool, len(h.cfg.AllowedOrigins))
		for _, o := range h.cfg.AllowedOrigins {
			allowed[o] = true
		}
		u.CheckOrigin = func(r *http.Request) bool {
			return allowed["*"] || allowed[r.Header.Get("Origin")]
		}
	}
	return u
}

// handleWebsocket runs one action per connection: the client sends a wsRequest,
// receives every event as a text message and then a normal close.
func (h *Handler) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	upgrader := h.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.deps.Logger.Warn(r.Context(), "Websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer conn.Close()

	conn.SetReadLimit(h.cfg.MaxBodyBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsRequestTimeout))

	var req wsRequest
	if err := conn.ReadJSON(&req); err != nil {
		h.closeWithError(conn, apperrors.InvalidInput("invalid websocket request"))
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, rec, err := h.startFromRequest(ctx, r, req)
	if err != nil {
		h.closeWithError(conn, err)
		return
	}

	// A read error means the client went away; stop observing.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	for ev := range events {
		h.audit(ctx, rec, ev)
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(ev); err != nil {
			cancel()
			continue
		}
	}

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Handler) startFromRequest(ctx context.Context, r *http.Request, req wsRequest) (<-chan pipeline.Event, *storage.ActionRecord, error) {
	switch req.Kind {
	case "create":
		actx, err := h.actionContext(r, true)
		if err != nil {
			return nil, nil, err
		}
		assetType, err := tokens.ParseAssetType(req.AssetType)
		if err != nil {
			return nil, nil, err
		}
		var input tokens.CreateInput
		if err := decodeInput(req.Input, &input); err != nil {
			return nil, nil, err
		}
		events, err := h.deps.Creator.Dispatch(ctx, assetType, input, actx)
		if err != nil {
			return nil, nil, err
		}
		return events, h.startRecord(ctx, actx, "create-"+string(assetType), string(assetType)), nil

	case "action":
		actx, err := h.actionContext(r, req.Wait)
		if err != nil {
			return nil, nil, err
		}
		token, err := chain.ParseAddress("token", req.Token)
		if err != nil {
			return nil, nil, err
		}
		var input tokens.ActionInput
		if err := decodeInput(req.Input, &input); err != nil {
			return nil, nil, err
		}
		events, err := h.deps.Actions.Execute(ctx, req.Action, token, input, actx)
		if err != nil {
			return nil, nil, err
		}
		return events, h.startRecord(ctx, actx, req.Action, ""), nil

	default:
		return nil, nil, apperrors.Newf(apperrors.CodeInvalidInput, "unknown request kind %q", req.Kind)
	}
}

func decodeInput(raw json.RawMessage, target interface{}) error {
	if len(raw) == 0 {
		return apperrors.InvalidInput("input is required")
	}
	if err := httputil.DecodeStrict(raw, target); err != nil {
		if se := apperrors.GetServiceError(err); se != nil {
			return se
		}
		return apperrors.InvalidInput("invalid input: " + err.Error())
	}
	return nil
}

// closeWithError sends the error body and a policy-violation close.
func (h *Handler) closeWithError(conn *websocket.Conn, err error) {
	se := apperrors.GetServiceError(err)
	if se == nil {
		se = apperrors.Internal("internal error", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = conn.WriteJSON(httputil.ErrorBody{Code: se.Code, Message: se.Message, Details: se.Details})
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, string(se.Code)))
}
