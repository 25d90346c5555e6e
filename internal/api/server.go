// Package api is the thin HTTP boundary in front of the gateway core. It
// decodes JSON bodies, delegates, and maps the error taxonomy to status codes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"toolgate/internal/domain"
)

// Gateway is the surface the adapter needs from the application core.
type Gateway interface {
	Discover(ctx context.Context, query string, tags []string, limit int) ([]domain.ToolMatch, error)
	Provision(ctx context.Context, toolIDs []string, maxTools, tokenBudget int) (domain.ProvisionResult, error)
	Execute(ctx context.Context, toolID string, args json.RawMessage) (json.RawMessage, error)
	ListBackends(ctx context.Context) []domain.BackendStatus
	RegisterBackend(ctx context.Context, spec domain.BackendSpec) ([]domain.Tool, error)
	DeregisterBackend(ctx context.Context, name string) error
}

type Server struct {
	gateway Gateway
	logger  *zap.Logger
	mux     *http.ServeMux
}

func NewServer(gateway Gateway, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		gateway: gateway,
		logger:  logger.Named("api"),
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /v1/discover", s.handleDiscover)
	s.mux.HandleFunc("POST /v1/provision", s.handleProvision)
	s.mux.HandleFunc("POST /v1/execute", s.handleExecute)
	s.mux.HandleFunc("GET /v1/backends", s.handleListBackends)
	s.mux.HandleFunc("POST /v1/backends", s.handleRegisterBackend)
	s.mux.HandleFunc("DELETE /v1/backends/{name}", s.handleDeregisterBackend)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve runs the API listener until ctx is canceled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("api server failed to start: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("api server shutdown error", zap.Error(err))
			return err
		}
		s.logger.Info("api server stopped")
		return nil
	}
}

type discoverRequest struct {
	Query string   `json:"query"`
	Tags  []string `json:"tags,omitempty"`
	Limit int      `json:"limit"`
}

type discoverResponse struct {
	Matches []domain.ToolMatch `json:"matches"`
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var req discoverRequest
	if !s.decode(w, r, &req) {
		return
	}
	matches, err := s.gateway.Discover(r.Context(), req.Query, req.Tags, req.Limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, discoverResponse{Matches: matches})
}

type provisionRequest struct {
	ToolIDs     []string `json:"toolIds,omitempty"`
	MaxTools    int      `json:"maxTools"`
	TokenBudget int      `json:"tokenBudget"`
}

func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if !s.decode(w, r, &req) {
		return
	}
	result, err := s.gateway.Provision(r.Context(), req.ToolIDs, req.MaxTools, req.TokenBudget)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

type executeRequest struct {
	ToolID    string          `json:"toolId"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type executeResponse struct {
	Result json.RawMessage `json:"result"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !s.decode(w, r, &req) {
		return
	}
	result, err := s.gateway.Execute(r.Context(), req.ToolID, req.Arguments)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, executeResponse{Result: result})
}

type listBackendsResponse struct {
	Backends []domain.BackendStatus `json:"backends"`
}

func (s *Server) handleListBackends(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, listBackendsResponse{Backends: s.gateway.ListBackends(r.Context())})
}

type registerBackendResponse struct {
	Tools []domain.Tool `json:"tools"`
}

func (s *Server) handleRegisterBackend(w http.ResponseWriter, r *http.Request) {
	var spec domain.BackendSpec
	if !s.decode(w, r, &spec) {
		return
	}
	tools, err := s.gateway.RegisterBackend(r.Context(), spec)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, registerBackendResponse{Tools: tools})
}

func (s *Server) handleDeregisterBackend(w http.ResponseWriter, r *http.Request) {
	if err := s.gateway.DeregisterBackend(r.Context(), r.PathValue("name")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{
			Code:    string(domain.CodeInvalidArgument),
			Message: "malformed request body: " + err.Error(),
		})
		return false
	}
	return true
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code, ok := domain.CodeFrom(err)
	if !ok {
		code = domain.CodeInternal
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			code = domain.CodeCanceled
		}
	}
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed", zap.String("code", string(code)), zap.Error(err))
	}
	s.writeJSON(w, status, errorBody{Code: string(code), Message: err.Error()})
}

func statusFor(code domain.ErrorCode) int {
	switch code {
	case domain.CodeInvalidArgument, domain.CodeFailedPrecond:
		return http.StatusBadRequest
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeUnavailable:
		return http.StatusBadGateway
	case domain.CodeDeadlineExceeded:
		return http.StatusGatewayTimeout
	case domain.CodeCanceled:
		// The caller abandoned the request; the status is mostly unseen.
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("response encode failed", zap.Error(err))
	}
}
