package daemon

import (
	"encoding/json"
	"errors"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

var serviceErrorStatus = map[ServiceErrorKind]int{
	ServiceErrorInvalid:     http.StatusBadRequest,
	ServiceErrorNotFound:    http.StatusNotFound,
	ServiceErrorConflict:    http.StatusConflict,
	ServiceErrorUnavailable: http.StatusServiceUnavailable,
}

func writeServiceError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	message := err.Error()

	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		if s, ok := serviceErrorStatus[svcErr.Kind]; ok {
			status = s
		}
		if svcErr.Message != "" {
			message = svcErr.Message
		}
	}
	writeJSON(w, status, map[string]string{"error": message})
}
