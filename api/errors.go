package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/davon-library/webgate/mock"
	"github.com/davon-library/webgate/proxy"
	"github.com/davon-library/webgate/session"
	"github.com/davon-library/webgate/storage"
	"github.com/davon-library/webgate/token"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, proxy.ErrorResponse{Error: msg})
}

func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNoSession),
		errors.Is(err, token.ErrMalformed),
		errors.Is(err, token.ErrExpired),
		errors.Is(err, token.ErrInvalidSignature),
		errors.Is(err, token.ErrNoSubject):
		writeError(w, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, mock.ErrEmailTaken):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}
