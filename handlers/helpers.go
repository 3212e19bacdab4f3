package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/pongarena/match-system/repositories"
	"github.com/pongarena/match-system/services"
)

type jsonResponse map[string]interface{}

func readJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	maxBytes := 1_048_576 // 1MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("body must not be empty")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("body must only contain a single JSON value")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	js, err := json.Marshal(data)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(js)
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, jsonResponse{"error": message})
}

// mapServiceErrorToHTTP translates service-layer sentinels into HTTP
// statuses.
func mapServiceErrorToHTTP(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, repositories.ErrRoomNotFound),
		errors.Is(err, repositories.ErrNodeNotFound),
		errors.Is(err, repositories.ErrParticipantNotFound),
		errors.Is(err, repositories.ErrAssignmentNotFound),
		errors.Is(err, services.ErrUnknownMatch):
		errorResponse(w, http.StatusNotFound, err.Error())

	case errors.Is(err, repositories.ErrRoomNameConflict),
		errors.Is(err, repositories.ErrParticipantConflict):
		errorResponse(w, http.StatusConflict, err.Error())

	case errors.Is(err, services.ErrInvalidBracketSize),
		errors.Is(err, services.ErrInvalidDirection):
		errorResponse(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, services.ErrConnectionRejected),
		errors.Is(err, services.ErrTokenInvalid),
		errors.Is(err, services.ErrTokenExpired):
		errorResponse(w, http.StatusUnauthorized, err.Error())

	case errors.Is(err, services.ErrAIServiceFailed):
		errorResponse(w, http.StatusBadGateway, err.Error())

	default:
		logger.Error("internal server error", slog.Any("error", err))
		errorResponse(w, http.StatusInternalServerError, "the server encountered a problem and could not process your request")
	}
}
