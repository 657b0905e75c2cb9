package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/STRATINT/connectors/internal/models"
	"github.com/STRATINT/connectors/internal/result"
)

const maxBodyBytes = 1 << 20

// StatusFor maps an error type to its HTTP status.
func StatusFor(typ result.ErrorType) int {
	switch typ {
	case result.ErrorTypeConnectorNotFound, result.ErrorTypeDataSourceNotFound:
		return http.StatusNotFound
	case result.ErrorTypeConnectorConflict, result.ErrorTypeDataSourceAlreadyExists:
		return http.StatusConflict
	case result.ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case result.ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case result.ErrorTypeTransportFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the {"error":{type,message}} body of a failed operation.
func WriteError(w http.ResponseWriter, rerr *result.Error) {
	WriteJSON(w, StatusFor(rerr.Type), models.ErrorResponse{Error: *rerr})
}

// WriteResult writes the value of an Ok result, or its error.
func WriteResult[T any](w http.ResponseWriter, res result.Result[T], render func(T) any) {
	value, rerr := res.Unpack()
	if rerr != nil {
		WriteError(w, rerr)
		return
	}
	WriteJSON(w, http.StatusOK, render(value))
}

// DecodeJSON reads a JSON request body into dst.
func DecodeJSON(r *http.Request, dst any) *result.Error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return result.Errorf(result.ErrorTypeInvalidRequest, "Invalid request body: %v", err)
	}
	return nil
}

func invalidRequest(format string, args ...any) *result.Error {
	return result.NewError(result.ErrorTypeInvalidRequest, fmt.Sprintf(format, args...))
}
