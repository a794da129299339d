package mock

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/davon-library/webgate/storage"
)

//go:embed seed.json
var seedJSON []byte

// DefaultUsers returns the built-in development users. Every one has the
// password "password".
func DefaultUsers() ([]NewUser, error) {
	var users []NewUser
	if err := json.Unmarshal(seedJSON, &users); err != nil {
		return nil, fmt.Errorf("decoding seed users: %w", err)
	}
	return users, nil
}

// Handler exposes a UserStore over HTTP in the shape list-oriented admin
// UIs expect (_start/_end windows and a Content-Range header).
type Handler struct {
	store  *UserStore
	logger *slog.Logger
}

// NewHandler returns a Handler for store. A nil logger logs JSON to stderr.
func NewHandler(store *UserStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return &Handler{store: store, logger: logger.With("component", "mock")}
}

// Routes returns the mock provider's router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/users", h.listUsers)
	r.Post("/users", h.createUser)
	r.Get("/users/{id}", h.getUser)
	r.Put("/users/{id}", h.updateUser)
	r.Delete("/users/{id}", h.deleteUser)
	r.Post("/login", h.login)
	r.Post("/register", h.register)
	return r
}

type userEnvelope struct {
	User User `json:"user"`
}

type deletedResponse struct {
	ID int `json:"id"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: err.Error()})
		return
	}
	users, total, err := h.store.List(q)
	if errors.Is(err, ErrInvalidSort) {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: err.Error()})
		return
	}
	if err != nil {
		h.internalError(w, r, "listing users", err)
		return
	}

	w.Header().Set("Content-Range", contentRange("users", max(q.Start, 0), len(users), total))
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	w.Header().Set("Access-Control-Expose-Headers", "Content-Range, X-Total-Count")
	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, struct{}{})
		return
	}
	u, err := h.store.Get(id)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, struct{}{})
		return
	}
	if err != nil {
		h.internalError(w, r, "loading user", err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var nu NewUser
	if err := decodeJSON(r, &nu); err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Invalid request body"})
		return
	}
	u, err := h.store.Create(nu)
	if err != nil {
		h.internalError(w, r, "creating user", err)
		return
	}
	h.logger.InfoContext(r.Context(), "user created", slog.Int("id", u.ID))
	writeJSON(w, http.StatusCreated, u)
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, struct{}{})
		return
	}
	var patch Patch
	if err := decodeJSON(r, &patch); err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Invalid request body"})
		return
	}
	u, err := h.store.Update(id, patch)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, struct{}{})
		return
	}
	if err != nil {
		h.internalError(w, r, "updating user", err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, struct{}{})
		return
	}
	if err := h.store.Delete(id); err != nil {
		h.internalError(w, r, "deleting user", err)
		return
	}
	h.logger.InfoContext(r.Context(), "user deleted", slog.Int("id", id))
	writeJSON(w, http.StatusOK, deletedResponse{ID: id})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Invalid request body"})
		return
	}
	u, err := h.store.Authenticate(req.Email, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		writeJSON(w, http.StatusUnauthorized, messageResponse{Message: "Invalid email or password"})
		return
	}
	if err != nil {
		h.internalError(w, r, "authenticating user", err)
		return
	}
	writeJSON(w, http.StatusOK, userEnvelope{User: u})
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var nu NewUser
	if err := decodeJSON(r, &nu); err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Invalid request body"})
		return
	}
	if nu.Email == "" || nu.Password == "" {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Email and password are required"})
		return
	}
	nu.Role = ""
	u, err := h.store.Register(nu)
	if errors.Is(err, ErrEmailTaken) {
		writeJSON(w, http.StatusConflict, messageResponse{Message: "Email already registered"})
		return
	}
	if err != nil {
		h.internalError(w, r, "registering user", err)
		return
	}
	writeJSON(w, http.StatusCreated, userEnvelope{User: u})
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.ErrorContext(r.Context(), msg, slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "An error occurred."})
}

// parseListQuery reads _start, _end, _sort and _order. Missing values mean
// the whole collection in id order.
func parseListQuery(r *http.Request) (ListQuery, error) {
	q := r.URL.Query()
	lq := ListQuery{End: -1, Sort: q.Get("_sort")}
	if v := q.Get("_start"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return ListQuery{}, fmt.Errorf("invalid _start %q", v)
		}
		lq.Start = n
	}
	if v := q.Get("_end"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return ListQuery{}, fmt.Errorf("invalid _end %q", v)
		}
		lq.End = n
	}
	switch q.Get("_order") {
	case "", "ASC", "asc":
	case "DESC", "desc":
		lq.Desc = true
	default:
		return ListQuery{}, fmt.Errorf("invalid _order %q", q.Get("_order"))
	}
	return lq, nil
}

// contentRange formats "<unit> <first>-<last>/<total>", or "<unit> */<total>"
// for an empty window.
func contentRange(unit string, start, count, total int) string {
	if count == 0 {
		return fmt.Sprintf("%s */%d", unit, total)
	}
	return fmt.Sprintf("%s %d-%d/%d", unit, start, start+count-1, total)
}

func userID(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	return id, err == nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
}
