package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kiwari-pos/dinein/internal/service"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErrorMsg(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeBody decodes and validates a JSON request body, writing a 400 on
// failure. An empty body decodes to the zero value before validation.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeErrorMsg(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request body"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fe.Field()+" is required")
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param()))
		case "min", "gt", "gte":
			parts = append(parts, fmt.Sprintf("%s must be >= %s", fe.Field(), fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

// urlUUID parses a chi URL parameter, writing a 400 when it is not a UUID.
func urlUUID(w http.ResponseWriter, r *http.Request, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, key))
	if err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "invalid "+key)
		return uuid.Nil, false
	}
	return id, true
}

// writeServiceError maps an engine error to its HTTP status. Unknown errors
// are logged and hidden behind a 500.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	var balErr *service.BalanceError
	if errors.As(err, &balErr) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": balErr.Error(),
			"owed":  balErr.Owed.StringFixed(2),
		})
		return
	}

	if isRetryable(err) {
		writeErrorMsg(w, http.StatusConflict, service.ErrConflict.Error())
		return
	}

	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("ERROR: %s: %v", op, err)
		writeErrorMsg(w, status, "internal server error")
		return
	}
	writeErrorMsg(w, status, err.Error())
}

var badRequestErrors = []error{
	service.ErrInvalidQuantity,
	service.ErrInvalidDiscount,
	service.ErrInvalidAmount,
	service.ErrInvalidMethod,
	service.ErrInvalidScope,
	service.ErrInvalidStatus,
}

var conflictErrors = []error{
	service.ErrItemLocked,
	service.ErrInvalidTransition,
	service.ErrConflict,
	service.ErrAlreadyVoided,
	service.ErrExpired,
	service.ErrBalanceNotZero,
	service.ErrGroupNotSettleable,
	service.ErrOrderNotActive,
	service.ErrGroupNotOpen,
	service.ErrOrderInGroup,
	service.ErrPaymentConfirmed,
	service.ErrItemsNotServed,
	service.ErrLastTable,
	service.ErrTableUnavailable,
	service.ErrTableOccupied,
}

func statusFor(err error) int {
	if errors.Is(err, service.ErrInvariantViolation) {
		return http.StatusInternalServerError
	}
	if errors.Is(err, service.ErrNotFound) {
		return http.StatusNotFound
	}
	for _, target := range badRequestErrors {
		if errors.Is(err, target) {
			return http.StatusBadRequest
		}
	}
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			return http.StatusConflict
		}
	}
	if isRetryable(err) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// isRetryable reports Postgres deadlocks and serialization failures; the
// client refetches and retries like any other conflict.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40P01" || pgErr.Code == "40001"
}
