// Package mcp exposes cost reporting as MCP tools over stdio.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/pario-ai/querygate/pkg/logging"
	"github.com/pario-ai/querygate/pkg/models"
)

// Reporter is the read-only view of the gateway exposed as MCP tools.
type Reporter interface {
	CostStatus(ctx context.Context) models.CostStatus
	CostHistory(ctx context.Context, period models.HistoryPeriod, limit int) ([]models.HistoryEntry, error)
	CostForecast(ctx context.Context, days int) models.Forecast
	CacheStats(ctx context.Context) (models.CacheStats, error)
	Alerts(ctx context.Context, limit int) ([]models.Alert, error)
}

// Server is a minimal MCP server that communicates over stdio using JSON-RPC 2.0.
type Server struct {
	reporter Reporter
	version  string
	logger   *zap.Logger
}

// New creates a new MCP Server. logger may be nil.
func New(r Reporter, version string, logger *zap.Logger) *Server {
	return &Server{
		reporter: r,
		version:  version,
		logger:   logging.OrNop(logger).Named("mcp"),
	}
}

// Run reads JSON-RPC requests from r line-by-line and writes responses to w.
// It blocks until r is closed or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req rpcRequest
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(w, rpcResponse{
				JSONRPC: jsonrpcVersion,
				Error:   &rpcError{Code: codeParseError, Message: "parse error"},
			})
			continue
		}

		resp := s.dispatch(ctx, &req)
		if resp == nil {
			continue
		}
		s.writeResponse(w, *resp)
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *rpcRequest) *rpcResponse {
	// Notifications such as notifications/initialized never get a reply.
	if len(req.ID) == 0 && strings.HasPrefix(req.Method, "notifications/") {
		return nil
	}

	switch req.Method {
	case "initialize":
		return reply(req, initializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      serverInfo{Name: "querygate", Version: s.version},
			Capabilities:    map[string]any{"tools": map[string]any{}},
		})
	case "ping":
		return reply(req, map[string]any{})
	case "tools/list":
		return reply(req, toolList{Tools: allTools})
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		return replyError(req, codeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
	}
}

func (s *Server) handleToolsCall(ctx context.Context, req *rpcRequest) *rpcResponse {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return replyError(req, codeInvalidParams, "invalid params")
	}

	handler, ok := toolHandlers[params.Name]
	if !ok {
		return reply(req, errorResult(fmt.Sprintf("unknown tool: %s", params.Name)))
	}
	s.logger.Debug("tool call", zap.String("tool", params.Name))
	return reply(req, handler(ctx, s, params.Arguments))
}

func reply(req *rpcRequest, result any) *rpcResponse {
	return &rpcResponse{JSONRPC: jsonrpcVersion, ID: req.ID, Result: result}
}

func replyError(req *rpcRequest, code int, msg string) *rpcResponse {
	return &rpcResponse{JSONRPC: jsonrpcVersion, ID: req.ID, Error: &rpcError{Code: code, Message: msg}}
}

func (s *Server) writeResponse(w io.Writer, resp rpcResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal response", zap.Error(err))
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		s.logger.Error("write response", zap.Error(err))
	}
}
