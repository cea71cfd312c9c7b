package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/goodnatureofminers/forkscanner7000-backend/internal/model"
	"github.com/goodnatureofminers/forkscanner7000-backend/internal/scanner"
	"go.uber.org/zap"
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The facade is consumed by operator dashboards on other origins.
	CheckOrigin: func(*http.Request) bool { return true },
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcNotification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
)

type wsSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	cancels []func()
}

func (s *wsSession) write(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	session := &wsSession{conn: conn}
	defer func() {
		for _, cancel := range session.cancels {
			cancel()
		}
		_ = conn.Close()
	}()

	for {
		var req rpcRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket closed", zap.Error(err))
			}
			return
		}
		resp := s.dispatch(r.Context(), session, req)
		if err := session.write(resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, session *wsSession, req rpcRequest) rpcResponse {
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}

	if strings.HasPrefix(req.Method, "subscribe_") {
		topic := scanner.Topic(strings.TrimPrefix(req.Method, "subscribe_"))
		if !validTopic(topic) {
			resp.Error = &rpcError{Code: codeMethodNotFound, Message: "unknown topic"}
			return resp
		}
		s.subscribe(session, topic)
		resp.Result = "subscribed"
		return resp
	}

	switch req.Method {
	case "get_forks", "get_tips":
		tips, err := s.store.ListActiveTips(ctx)
		if err != nil {
			resp.Error = &rpcError{Code: codeInternal, Message: err.Error()}
			return resp
		}
		resp.Result = tips

	case "get_stale_candidates":
		var params struct {
			N int `json:"n"`
		}
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				resp.Error = &rpcError{Code: codeInvalidParams, Message: err.Error()}
				return resp
			}
		}
		if params.N <= 0 {
			params.N = 10
		}
		candidates, err := s.store.TopStaleCandidates(ctx, params.N)
		if err != nil {
			resp.Error = &rpcError{Code: codeInternal, Message: err.Error()}
			return resp
		}
		resp.Result = candidates

	case "get_lags":
		lags, err := s.store.ListOpenLags(ctx)
		if err != nil {
			resp.Error = &rpcError{Code: codeInternal, Message: err.Error()}
			return resp
		}
		resp.Result = lags

	case "add_node":
		var params struct {
			Name       string `json:"name"`
			Host       string `json:"host"`
			Port       int    `json:"port"`
			MirrorPort *int   `json:"mirror_port"`
			User       string `json:"user"`
			Pass       string `json:"pass"`
			Archive    bool   `json:"archive"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			resp.Error = &rpcError{Code: codeInvalidParams, Message: err.Error()}
			return resp
		}
		id, err := s.store.InsertNode(ctx, model.Node{
			Name:          params.Name,
			RPCHost:       params.Host,
			RPCPort:       params.Port,
			MirrorRPCPort: params.MirrorPort,
			RPCUser:       params.User,
			RPCPass:       params.Pass,
			Archive:       params.Archive,
			Enabled:       true,
		})
		if err != nil {
			resp.Error = &rpcError{Code: codeInternal, Message: err.Error()}
			return resp
		}
		resp.Result = map[string]int64{"id": id}

	case "remove_node":
		var params struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			resp.Error = &rpcError{Code: codeInvalidParams, Message: err.Error()}
			return resp
		}
		if err := s.store.RemoveNode(ctx, params.ID); err != nil {
			resp.Error = &rpcError{Code: codeInternal, Message: err.Error()}
			return resp
		}
		resp.Result = "ok"

	case "add_watched_addresses":
		var params struct {
			Addresses  []string  `json:"addresses"`
			WatchUntil time.Time `json:"watch_until"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			resp.Error = &rpcError{Code: codeInvalidParams, Message: err.Error()}
			return resp
		}
		if len(params.Addresses) == 0 {
			resp.Error = &rpcError{Code: codeInvalidParams, Message: "addresses are required"}
			return resp
		}
		if params.WatchUntil.IsZero() {
			params.WatchUntil = time.Now().Add(24 * time.Hour)
		}
		if err := s.store.InsertWatched(ctx, params.Addresses, params.WatchUntil); err != nil {
			resp.Error = &rpcError{Code: codeInternal, Message: err.Error()}
			return resp
		}
		resp.Result = "ok"

	default:
		resp.Error = &rpcError{Code: codeMethodNotFound, Message: "unknown method " + req.Method}
	}
	return resp
}

func (s *Server) subscribe(session *wsSession, topic scanner.Topic) {
	events, cancel := s.hub.Subscribe(topic)
	session.cancels = append(session.cancels, cancel)

	go func() {
		for ev := range events {
			notification := rpcNotification{
				JSONRPC: "2.0",
				Method:  string(ev.Topic),
				Params:  ev.Payload,
			}
			if err := session.write(notification); err != nil {
				cancel()
				return
			}
		}
	}()
}

func validTopic(topic scanner.Topic) bool {
	for _, t := range scanner.Topics() {
		if t == topic {
			return true
		}
	}
	return false
}
