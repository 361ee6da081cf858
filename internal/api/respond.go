package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/opsdesk/opsdesk/internal/errors"
)

// errorBody is the JSON error envelope.
type errorBody struct {
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions,omitempty"`
	ReqID       string   `json:"reqid,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a coded error to an HTTP status and writes the JSON
// error envelope. Non-coded errors become opaque 500s.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	opsErr, ok := err.(*errors.OpsError)
	if !ok {
		writeErrorBody(w, http.StatusInternalServerError, errorBody{
			Code:    "INTERNAL",
			Message: "internal server error",
			ReqID:   GetRequestID(r),
		})
		return
	}

	writeErrorBody(w, statusForCode(opsErr.Code), errorBody{
		Code:        string(opsErr.Code),
		Message:     opsErr.Message,
		Suggestions: opsErr.Suggestions,
		ReqID:       GetRequestID(r),
	})
}

func writeErrorBody(w http.ResponseWriter, status int, body errorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: body})
}

// statusForCode maps error codes to HTTP statuses. Distinct auth
// failure modes get distinct statuses so clients can react without
// parsing messages.
func statusForCode(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeInvalidCredentials,
		errors.ErrCodeSessionMissing,
		errors.ErrCodeSessionExpired,
		errors.ErrCodeTokenInvalid:
		return http.StatusUnauthorized
	case errors.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case errors.ErrCodeCSRFRejected:
		return http.StatusForbidden
	case errors.ErrCodeAccountLocked:
		return http.StatusLocked
	case errors.ErrCodeLoginInProgress,
		errors.ErrCodeTenantFetchInProgress,
		errors.ErrCodeTenantSwitchInProgress,
		errors.ErrCodeEmailTaken:
		return http.StatusConflict
	case errors.ErrCodeTenantNotMember:
		return http.StatusForbidden
	case errors.ErrCodeNoActiveTenant:
		return http.StatusBadRequest
	case errors.ErrCodeTenantFetchFailed,
		errors.ErrCodeTenantSwitchFailed,
		errors.ErrCodeProviderFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// routeTemplate returns the matched mux route template (e.g.
// "/api/v1/tenants/switch") so metrics labels stay low-cardinality.
func routeTemplate(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return ""
	}
	tpl, err := route.GetPathTemplate()
	if err != nil {
		return ""
	}
	return tpl
}
