package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/xtrntr/papertrade/internal/auth"
	"github.com/xtrntr/papertrade/internal/exchange"
	"github.com/xtrntr/papertrade/internal/models"
)

// Error codes returned in apiError.Code.
const (
	codeInvalidRequest      = "invalid_request"
	codeInvalidQuantity     = "invalid_quantity"
	codeUnknownCoin         = "unknown_coin"
	codePriceUnavailable    = "price_unavailable"
	codeInsufficientFunds   = "insufficient_funds"
	codeInsufficientHolding = "insufficient_holding"
	codeNoSuchHolding       = "no_such_holding"
	codeMissingLedgerState  = "missing_ledger_state"
	codeLimitExceeded       = "limit_exceeded"
	codeUnauthorized        = "unauthorized"
	codeInvalidCredentials  = "invalid_credentials"
	codeEmailTaken          = "email_taken"
	codeNotFound            = "not_found"
	codeConflict            = "conflict"
	codeRateLimited         = "rate_limited"
	codeInternal            = "internal_error"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorMapping ties a sentinel error to its response. Order matters: the
// first entry the error matches wins.
var errorMapping = []struct {
	target error
	status int
	code   string
}{
	{exchange.ErrInvalidQuantity, http.StatusBadRequest, codeInvalidQuantity},
	{exchange.ErrUnknownCoin, http.StatusBadRequest, codeUnknownCoin},
	{exchange.ErrPriceUnavailable, http.StatusBadRequest, codePriceUnavailable},
	{exchange.ErrInsufficientFunds, http.StatusBadRequest, codeInsufficientFunds},
	{exchange.ErrInsufficientHolding, http.StatusBadRequest, codeInsufficientHolding},
	{exchange.ErrNoSuchHolding, http.StatusBadRequest, codeNoSuchHolding},
	{exchange.ErrMissingLedgerState, http.StatusBadRequest, codeMissingLedgerState},
	{exchange.ErrLimitExceeded, http.StatusBadRequest, codeLimitExceeded},
	{exchange.ErrConflict, http.StatusConflict, codeConflict},
	{auth.ErrInvalidInput, http.StatusBadRequest, codeInvalidRequest},
	{auth.ErrEmailTaken, http.StatusBadRequest, codeEmailTaken},
	{auth.ErrUnknownEmail, http.StatusUnauthorized, codeInvalidCredentials},
	{auth.ErrWrongPassword, http.StatusUnauthorized, codeInvalidCredentials},
	{auth.ErrInvalidToken, http.StatusUnauthorized, codeUnauthorized},
	{models.ErrNotFound, http.StatusNotFound, codeNotFound},
}

// classifyError maps err to a status and code. ok is false for errors the
// client must not see the details of.
func classifyError(err error) (status int, code string, ok bool) {
	for _, m := range errorMapping {
		if errors.Is(err, m.target) {
			return m.status, m.code, true
		}
	}
	return http.StatusInternalServerError, codeInternal, false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Code: code, Message: message})
}

func (h *Handler) badRequest(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, codeInvalidRequest, msg)
}

// fail answers with the response err maps to. Unmapped errors are logged and
// answered with a generic message.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, where string, err error) {
	status, code, ok := classifyError(err)
	if !ok {
		h.logger.Error("internal_error",
			zap.String("where", where),
			zap.String("request_id", requestID(r)),
			zap.Error(err),
		)
		writeError(w, status, code, "internal server error")
		return
	}
	writeError(w, status, code, err.Error())
}
