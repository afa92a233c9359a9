package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/raumlabs/hostbridge/internal/update"
)

// Host channel names.
const (
	ChannelGlobal  = "global"
	ChannelUpdate  = "update"
	ChannelEvent   = "event"
	ChannelCommand = "command"
	ChannelWindow  = "window"
)

// GlobalStore is the key/value store behind the "global" channel.
type GlobalStore interface {
	GetGlobal(key string) (value json.RawMessage, found bool, err error)
	SetGlobal(key string, value json.RawMessage) error
	DeleteGlobal(key string) error
	ListGlobals() (map[string]json.RawMessage, error)
}

// GlobalRequest is the payload of "global" invocations.
type GlobalRequest struct {
	Op    string          `json:"op"`
	Key   string          `json:"key,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// GlobalResponse answers "get" requests.
type GlobalResponse struct {
	Key   string          `json:"key"`
	Found bool            `json:"found"`
	Value json.RawMessage `json:"value,omitempty"`
}

// RegisterGlobal serves get/set/delete/list on ChannelGlobal.
func RegisterGlobal(h *Hub, store GlobalStore) {
	h.Handle(ChannelGlobal, func(_ context.Context, payload json.RawMessage) (interface{}, error) {
		var req GlobalRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("invalid global request: %w", err)
		}
		if req.Op != "list" && req.Key == "" {
			return nil, fmt.Errorf("global %s: key is required", req.Op)
		}

		switch req.Op {
		case "get":
			value, found, err := store.GetGlobal(req.Key)
			if err != nil {
				return nil, err
			}
			return GlobalResponse{Key: req.Key, Found: found, Value: value}, nil
		case "set":
			if len(req.Value) == 0 {
				return nil, fmt.Errorf("global set %s: value is required", req.Key)
			}
			if err := store.SetGlobal(req.Key, req.Value); err != nil {
				return nil, err
			}
			return map[string]bool{"ok": true}, nil
		case "delete":
			if err := store.DeleteGlobal(req.Key); err != nil {
				return nil, err
			}
			return map[string]bool{"ok": true}, nil
		case "list":
			return store.ListGlobals()
		default:
			return nil, fmt.Errorf("unknown global op %q", req.Op)
		}
	})
}

// UpdateStatus exposes the controller to views.
type UpdateStatus interface {
	State() update.State
	Session() (update.Session, bool)
}

// UpdateHistory lists finished cycles, newest first.
type UpdateHistory interface {
	ListOutcomes(ctx context.Context, limit int) ([]update.Outcome, error)
}

// UpdateRequest is the payload of "update" invocations.
type UpdateRequest struct {
	Op    string `json:"op"`
	Limit int    `json:"limit,omitempty"`
}

// StatusResponse answers "status" requests.
type StatusResponse struct {
	State     update.State    `json:"state"`
	StateName string          `json:"state_name"`
	Session   *update.Session `json:"session,omitempty"`
}

// RegisterUpdate serves status and history on ChannelUpdate. history may be nil.
func RegisterUpdate(h *Hub, status UpdateStatus, history UpdateHistory) {
	h.Handle(ChannelUpdate, func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
		req := UpdateRequest{Op: "status"}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, fmt.Errorf("invalid update request: %w", err)
			}
		}

		switch req.Op {
		case "status", "":
			s := status.State()
			resp := StatusResponse{State: s, StateName: s.String()}
			if sess, ok := status.Session(); ok {
				resp.Session = &sess
			}
			return resp, nil
		case "history":
			if history == nil {
				return []update.Outcome{}, nil
			}
			limit := req.Limit
			if limit <= 0 {
				limit = 20
			}
			return history.ListOutcomes(ctx, limit)
		default:
			return nil, fmt.Errorf("unknown update op %q", req.Op)
		}
	})
}
