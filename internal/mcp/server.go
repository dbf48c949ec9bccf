// Package mcp serves the tool router over JSON-RPC 2.0 using the Model Context
// Protocol method set: initialize, ping, tools/list and tools/call.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/mattjoyce/rendergw/internal/log"
	"github.com/mattjoyce/rendergw/internal/protocol"
	"github.com/mattjoyce/rendergw/internal/toolerr"
	"github.com/mattjoyce/rendergw/internal/tools"
)

// ProtocolVersion is advertised when the client does not request one.
const ProtocolVersion = "2025-06-18"

// Method names.
const (
	MethodInitialize = "initialize"
	MethodPing       = "ping"
	MethodToolsList  = "tools/list"
	MethodToolsCall  = "tools/call"
)

// Toolset is the dispatch surface the server exposes.
type Toolset interface {
	Tools() []tools.Tool
	Call(ctx context.Context, name string, args map[string]any) (*tools.Result, error)
}

// Implementation identifies the server in the initialize handshake.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ClientInfo      Implementation `json:"clientInfo"`
}

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    capabilities   `json:"capabilities"`
	ServerInfo      Implementation `json:"serverInfo"`
}

type capabilities struct {
	Tools toolsCapability `json:"tools"`
}

type toolsCapability struct {
	ListChanged bool `json:"listChanged"`
}

type listToolsResult struct {
	Tools []tools.Tool `json:"tools"`
}

// CallParams are the params of a tools/call request.
type CallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Server answers decoded JSON-RPC requests.
type Server struct {
	tools  Toolset
	info   Implementation
	logger *slog.Logger
}

// NewServer creates a server over ts.
func NewServer(ts Toolset, info Implementation) *Server {
	return &Server{
		tools:  ts,
		info:   info,
		logger: log.WithComponent("mcp"),
	}
}

// HandleMessage decodes one raw message and returns the encoded response, or
// nil when the message was a notification.
func (s *Server) HandleMessage(ctx context.Context, data []byte) []byte {
	req, rpcErr := protocol.DecodeRequest(data)
	var resp *protocol.Response
	if rpcErr != nil {
		s.logger.Warn("rejected message", "code", rpcErr.Code, "error", rpcErr.Message)
		var id json.RawMessage
		if req != nil {
			id = req.ID
		}
		resp = protocol.NewError(id, rpcErr)
	} else {
		resp = s.Handle(ctx, req)
	}
	if resp == nil {
		return nil
	}

	out, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to encode response", "method", methodOf(req), "error", err)
		out, _ = json.Marshal(protocol.NewError(resp.ID, protocol.Errorf(protocol.CodeInternalError, "failed to encode response")))
	}
	return out
}

// Handle answers one request. Notifications yield nil.
func (s *Server) Handle(ctx context.Context, req *protocol.Request) *protocol.Response {
	result, err := s.dispatch(ctx, req)
	if req.IsNotification() {
		if err != nil {
			s.logger.Debug("notification failed", "method", req.Method, "error", err)
		}
		return nil
	}
	if err != nil {
		return protocol.NewError(req.ID, rpcError(err))
	}

	resp, encErr := protocol.NewResult(req.ID, result)
	if encErr != nil {
		s.logger.Error("failed to encode result", "method", req.Method, "error", encErr)
		return protocol.NewError(req.ID, protocol.Errorf(protocol.CodeInternalError, "failed to encode result"))
	}
	return resp
}

func (s *Server) dispatch(ctx context.Context, req *protocol.Request) (any, error) {
	switch req.Method {
	case MethodInitialize:
		var p initializeParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		version := p.ProtocolVersion
		if version == "" {
			version = ProtocolVersion
		}
		s.logger.Info("client initialized", "client", p.ClientInfo.Name, "client_version", p.ClientInfo.Version,
			"protocol_version", version)
		return initializeResult{
			ProtocolVersion: version,
			Capabilities:    capabilities{Tools: toolsCapability{}},
			ServerInfo:      s.info,
		}, nil

	case MethodPing:
		return struct{}{}, nil

	case MethodToolsList:
		return listToolsResult{Tools: s.tools.Tools()}, nil

	case MethodToolsCall:
		var p CallParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		if p.Name == "" {
			return nil, protocol.Errorf(protocol.CodeInvalidParams, "tools/call requires a tool name")
		}
		return s.tools.Call(ctx, p.Name, p.Arguments)

	default:
		if req.IsNotification() {
			return nil, nil
		}
		return nil, protocol.Errorf(protocol.CodeMethodNotFound, "method %q not found", req.Method)
	}
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return protocol.Errorf(protocol.CodeInvalidParams, "invalid params: %v", err)
	}
	return nil
}

// rpcError maps service errors onto JSON-RPC error objects.
func rpcError(err error) *protocol.Error {
	var rpcErr *protocol.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	te, ok := toolerr.As(err)
	if !ok {
		return protocol.Errorf(protocol.CodeInternalError, "%v", err)
	}
	switch {
	case te.Kind == toolerr.KindValidation:
		return &protocol.Error{
			Code:    protocol.CodeInvalidParams,
			Message: te.Message,
			Data:    map[string]string{"field": te.Field, "constraint": te.Constraint},
		}
	case te.Reason == toolerr.ReasonToolNotFound:
		return &protocol.Error{Code: protocol.CodeMethodNotFound, Message: te.Message}
	default:
		return &protocol.Error{Code: protocol.CodeInternalError, Message: te.Error()}
	}
}

func methodOf(req *protocol.Request) string {
	if req == nil {
		return ""
	}
	return req.Method
}
