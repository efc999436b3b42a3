// Package api exposes the commitment validator over HTTP. It is a thin JSON
// boundary: request schemas are validated here, validation verdicts are
// returned as-is with status 200, and only transport-level problems map to
// error status codes.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/relayprotocol/commitments"
	"github.com/relayprotocol/commitments/sdk"
	"github.com/relayprotocol/commitments/types"
)

// Server routes validation requests to a commitments.Validator.
type Server struct {
	validator *commitments.Validator
	schema    *validator.Validate
	logger    *zap.Logger
}

// NewServer creates a new Server.
func NewServer(v *commitments.Validator, logger *zap.Logger) *Server {
	return &Server{
		validator: v,
		schema:    validator.New(),
		logger:    logger,
	}
}

// Handler returns the HTTP handler serving all validation endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /validate/commitment-data/v1", s.handleCommitmentData)
	mux.HandleFunc("POST /validate/commitment-execution/v1", s.handleCommitmentExecution)
	mux.HandleFunc("POST /validate/commitment-refund-execution/v1", s.handleCommitmentRefundExecution)

	return mux
}

type commitmentDataRequest struct {
	Commitment types.Commitment `json:"commitment" validate:"required"`
	Signature  string           `json:"signature" validate:"required,startswith=0x"`
}

type commitmentExecutionRequest struct {
	Commitment      types.Commitment             `json:"commitment" validate:"required"`
	Signature       string                       `json:"signature" validate:"required,startswith=0x"`
	InputExecutions []commitments.InputExecution `json:"inputExecutions" validate:"required,min=1,dive"`
	OutputExecution commitments.OutputExecution  `json:"outputExecution" validate:"required"`
}

type commitmentRefundExecutionRequest struct {
	Commitment       types.Commitment              `json:"commitment" validate:"required"`
	Signature        string                        `json:"signature" validate:"required,startswith=0x"`
	InputExecutions  []commitments.InputExecution  `json:"inputExecutions" validate:"required,min=1,dive"`
	RefundExecutions []commitments.RefundExecution `json:"refundExecutions" validate:"required,min=1,dive"`
}

func (s *Server) handleCommitmentData(w http.ResponseWriter, r *http.Request) {
	var req commitmentDataRequest
	if !s.decode(w, r, &req) {
		return
	}

	signature, err := types.NewSignatureFromHex(req.Signature)
	if err != nil {
		s.badRequest(w, err)

		return
	}

	s.respond(w, r, s.validator.ValidateCommitmentData(req.Commitment, signature))
}

func (s *Server) handleCommitmentExecution(w http.ResponseWriter, r *http.Request) {
	var req commitmentExecutionRequest
	if !s.decode(w, r, &req) {
		return
	}

	signature, err := types.NewSignatureFromHex(req.Signature)
	if err != nil {
		s.badRequest(w, err)

		return
	}

	// The execution claim is only meaningful over a well-formed, correctly
	// signed commitment.
	if result := s.validator.ValidateCommitmentData(req.Commitment, signature); result.Status != sdk.StatusSuccess {
		s.respond(w, r, result)

		return
	}

	ctx := sdk.WithLogger(r.Context(), s.logger.Sugar())
	s.respond(w, r, s.validator.ValidateCommitmentOutputExecution(
		ctx, req.Commitment, req.InputExecutions, req.OutputExecution))
}

func (s *Server) handleCommitmentRefundExecution(w http.ResponseWriter, r *http.Request) {
	var req commitmentRefundExecutionRequest
	if !s.decode(w, r, &req) {
		return
	}

	signature, err := types.NewSignatureFromHex(req.Signature)
	if err != nil {
		s.badRequest(w, err)

		return
	}

	if result := s.validator.ValidateCommitmentData(req.Commitment, signature); result.Status != sdk.StatusSuccess {
		s.respond(w, r, result)

		return
	}

	ctx := sdk.WithLogger(r.Context(), s.logger.Sugar())
	s.respond(w, r, s.validator.ValidateCommitmentRefundExecution(
		ctx, req.Commitment, req.InputExecutions, req.RefundExecutions))
}

// decode parses and schema-validates the request body, writing a 400 response
// and returning false on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.badRequest(w, err)

		return false
	}
	if err := s.schema.Struct(dst); err != nil {
		s.badRequest(w, err)

		return false
	}

	return true
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, result commitments.Result) {
	s.logger.Info("validation result",
		zap.String("path", r.URL.Path),
		zap.String("status", string(result.Status)),
		zap.String("reason", string(result.Reason)),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}
