package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	coreerrors "yieldprotocol/core/errors"
	"yieldprotocol/crypto"
	"yieldprotocol/gateway/middleware"
	"yieldprotocol/indexer"
)

const requestLimit = 1 << 20 // 1 MiB

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
)

type errorResponse struct {
	Code    string `json:"code"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Code: "InvalidRequest", Message: err.Error()})
}

// writeLedgerError maps a protocol error onto an HTTP status by kind.
func writeLedgerError(w http.ResponseWriter, err error) {
	kind := coreerrors.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case coreerrors.KindValidation:
		status = http.StatusBadRequest
	case coreerrors.KindState:
		status = http.StatusConflict
		if isNotFound(err) {
			status = http.StatusNotFound
		}
	case coreerrors.KindResource:
		status = http.StatusUnprocessableEntity
	case coreerrors.KindArithmetic:
		status = http.StatusUnprocessableEntity
	case coreerrors.KindAuthorization:
		status = http.StatusForbidden
	}
	if errors.Is(err, indexer.ErrNotFound) {
		status = http.StatusNotFound
	}
	code := coreerrors.CodeOf(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		code = "Internal"
		message = "internal error"
	}
	resp := errorResponse{Code: code, Message: message}
	if kind != coreerrors.KindUnknown {
		resp.Kind = kind.String()
	}
	writeJSON(w, status, resp)
}

func isNotFound(err error) bool {
	for _, sentinel := range []*coreerrors.Error{
		coreerrors.ErrPositionNotFound,
		coreerrors.ErrCollateralNotFound,
		coreerrors.ErrLoanNotFound,
		coreerrors.ErrProposalNotFound,
		coreerrors.ErrOrderNotFound,
		coreerrors.ErrReportNotFound,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func decodeRequest(r *http.Request, dst any) error {
	body := io.LimitReader(r.Body, requestLimit)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body required")
		}
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// caller resolves the authenticated subject to an account.
func caller(r *http.Request) ([20]byte, error) {
	subject, ok := middleware.Subject(r.Context())
	if !ok {
		return [20]byte{}, fmt.Errorf("authenticated subject required")
	}
	addr, err := crypto.ParseAddress(subject)
	if err != nil {
		return [20]byte{}, fmt.Errorf("token subject: %w", err)
	}
	return addr, nil
}

func pathAddress(r *http.Request) ([20]byte, error) {
	addr, err := crypto.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		return [20]byte{}, fmt.Errorf("address: %w", err)
	}
	return addr, nil
}

func pathID(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

// pageQuery reads the start and limit query parameters of a paged list.
func pageQuery(r *http.Request) (uint64, uint64, error) {
	var start, limit uint64 = 0, defaultPageLimit
	if raw := r.URL.Query().Get("start"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid start %q", raw)
		}
		start = v
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || v == 0 || v > maxPageLimit {
			return 0, 0, fmt.Errorf("limit must be between 1 and %d", maxPageLimit)
		}
		limit = v
	}
	return start, limit, nil
}

// parseAmount reads a base-10 integer amount in micro units.
func parseAmount(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%s required", field)
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%s must be a base-10 integer", field)
	}
	return value, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func addressString(addr [20]byte) string {
	if addr == ([20]byte{}) {
		return ""
	}
	return crypto.AddressFromRaw(addr).String()
}
