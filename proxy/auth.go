package proxy

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// LoginRequest is the body accepted by the login relay.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterRequest is the body accepted by the registration relay.
type RegisterRequest struct {
	Username string `json:"username"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned by the login relay on success.
type LoginResponse struct {
	OK bool `json:"ok"`
}

// StatusResponse is returned by the logout relay.
type StatusResponse struct {
	Status string `json:"status"`
}

// LoginHandler exchanges credentials with the upstream for a bearer token
// and stores it in the session cookie. The token never reaches the page.
func (f *Forwarder) LoginHandler(policy CookiePolicy) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := decodeJSON(r, &req); err != nil {
			writeMessage(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		status, payload, err := f.postJSON(r, "/auth/login", req)
		if err != nil {
			f.logger.ErrorContext(r.Context(), "upstream login failed", slog.String("error", err.Error()))
			writeMessage(w, http.StatusInternalServerError, "An internal server error occurred")
			return
		}
		if status < 200 || status > 299 {
			writeMessage(w, status, upstreamMessage(payload, "Invalid credentials"))
			return
		}

		var body struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal(payload, &body); err != nil || body.Token == "" {
			f.logger.ErrorContext(r.Context(), "upstream login returned no token")
			writeMessage(w, http.StatusInternalServerError, "An internal server error occurred")
			return
		}

		policy.Write(w, r, body.Token)
		writeJSON(w, http.StatusOK, LoginResponse{OK: true})
	})
}

// RegisterHandler relays account registration.
func (f *Forwarder) RegisterHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req RegisterRequest
		if err := decodeJSON(r, &req); err != nil {
			writeMessage(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		status, payload, err := f.postJSON(r, "/auth/register", req)
		if err != nil {
			f.logger.ErrorContext(r.Context(), "upstream register failed", slog.String("error", err.Error()))
			writeMessage(w, http.StatusInternalServerError, "An internal server error occurred")
			return
		}
		if status < 200 || status > 299 {
			writeMessage(w, status, upstreamMessage(payload, "Registration failed"))
			return
		}
		writeMessage(w, http.StatusCreated, "Registration successful")
	})
}

// LogoutHandler clears the session cookie. The upstream is stateless, so
// nothing is forwarded.
func LogoutHandler(policy CookiePolicy) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		policy.Clear(w, r)
		writeJSON(w, http.StatusOK, StatusResponse{Status: "success"})
	})
}

// MeHandler returns the upstream's view of the current user.
func (f *Forwarder) MeHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := f.bearer(r)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, f.base+"/auth/me", nil)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		req.Header.Set("Authorization", "Bearer "+raw)
		req.Header.Set("X-Request-ID", requestID(r))

		resp, err := f.client.Do(req)
		if err != nil {
			f.logger.ErrorContext(r.Context(), "upstream me failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		defer resp.Body.Close()
		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			writeJSON(w, resp.StatusCode, struct {
				Error   string `json:"error"`
				Details string `json:"details"`
			}{"Failed to fetch user data", string(payload)})
			return
		}
		var user json.RawMessage
		if err := json.Unmarshal(payload, &user); err != nil {
			writeError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		writeJSON(w, http.StatusOK, user)
	})
}

func (f *Forwarder) postJSON(r *http.Request, path string, v any) (int, []byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, f.base+path, bytes.NewReader(data))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID(r))

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, payload, nil
}

// upstreamMessage pulls a human readable message out of an upstream error
// body, falling back to def.
func upstreamMessage(payload []byte, def string) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
		return def
	}
	if text := strings.TrimSpace(string(payload)); text != "" && len(text) < 512 {
		return text
	}
	return def
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	return dec.Decode(v)
}
