package gameserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"go.uber.org/zap"

	"github.com/cory-johannsen/uno/internal/observability"
	"github.com/cory-johannsen/uno/internal/session"
	"github.com/cory-johannsen/uno/internal/transport/ws"
)

// maxBodyBytes bounds REST request bodies.
const maxBodyBytes = 4096

// Router is anything routes can be mounted on, such as *http.ServeMux or *ws.Acceptor.
type Router interface {
	Handle(pattern string, h http.Handler)
}

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	GameID     string `json:"game_id"`
	Public     bool   `json:"public"`
	MaxPlayers int    `json:"max_players"`
	Password   string `json:"password"`
}

// TokenResponse is the body returned by POST /sessions/{id}/tokens.
type TokenResponse struct {
	PlayerID uuid.UUID `json:"player_id"`
	Token    string    `json:"token"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// API serves the session REST endpoints.
type API struct {
	registry *session.Registry
	tokens   *ws.TokenResolver
	logger   *zap.Logger
}

// NewAPI creates the REST API. tokens may be nil, in which case the token
// endpoint is not mounted.
//
// Precondition: registry and logger must be non-nil.
func NewAPI(registry *session.Registry, tokens *ws.TokenResolver, logger *zap.Logger) *API {
	return &API{registry: registry, tokens: tokens, logger: logger}
}

// Mount registers the REST routes on r, each wrapped in an access logger.
func (a *API) Mount(r Router) {
	access := zap.NewStdLog(a.logger.Named("access")).Writer()
	logged := func(h http.HandlerFunc) http.Handler {
		return handlers.LoggingHandler(access, h)
	}

	r.Handle("POST /sessions", logged(a.createSession))
	r.Handle("GET /sessions", logged(a.listSessions))
	if a.tokens != nil {
		r.Handle("POST /sessions/{id}/tokens", logged(a.issueToken))
	}
	r.Handle("DELETE /sessions/{id}", logged(a.closeSession))
}

// Middleware returns the wrappers applied to every route, websocket
// included: panic recovery and CORS.
func Middleware(logger *zap.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		handlers.RecoveryHandler(
			handlers.RecoveryLogger(observability.StdErrorLog(logger, "http")),
			handlers.PrintRecoveryStack(true),
		),
		handlers.CORS(
			handlers.AllowedOrigins([]string{"*"}),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Content-Type"}),
		),
	}
}

func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if req.GameID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "game_id is required")
		return
	}

	s, err := a.registry.Create(req.GameID, session.Settings{
		Public:     req.Public,
		MaxPlayers: req.MaxPlayers,
		Password:   req.Password,
	})
	switch {
	case err == nil:
	case errors.Is(err, session.ErrUnknownGame), errors.Is(err, session.ErrInvalidSettings):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	default:
		a.logger.Error("creating session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "could not create session")
		return
	}

	writeJSON(w, http.StatusCreated, s.Summary())
}

func (a *API) listSessions(w http.ResponseWriter, r *http.Request) {
	out := []session.Summary{}
	for s := range a.registry.PublicSessions() {
		out = append(out, s.Summary())
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) issueToken(w http.ResponseWriter, r *http.Request) {
	s, ok := a.authorize(w, r)
	if !ok {
		return
	}
	sid := s.ID()

	playerID := uuid.New()
	token, err := a.tokens.Issue(playerID, sid)
	if err != nil {
		a.logger.Error("issuing token", zap.Stringer("session_id", sid), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "could not issue token")
		return
	}
	writeJSON(w, http.StatusCreated, TokenResponse{PlayerID: playerID, Token: token})
}

// closeSession ends a session. Every connected member's worker ends once
// its buffered events are written.
func (a *API) closeSession(w http.ResponseWriter, r *http.Request) {
	s, ok := a.authorize(w, r)
	if !ok {
		return
	}
	if err := a.registry.Close(s.ID()); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session_not_found", "session not found")
			return
		}
		a.logger.Error("closing session", zap.Stringer("session_id", s.ID()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "could not close session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// authorize resolves the {id} path segment to a live session, checking the
// JSON body's password when the session has one. On failure the error
// response has already been written.
func (a *API) authorize(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sid, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid session id")
		return nil, false
	}
	s, ok := a.registry.Get(sid)
	if !ok {
		writeError(w, http.StatusNotFound, "session_not_found", "session not found")
		return nil, false
	}
	if !s.HasPassword() {
		return s, true
	}
	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return nil, false
	}
	if !s.CheckPassword(body.Password) {
		writeError(w, http.StatusForbidden, "bad_password", session.ErrBadPassword.Error())
		return nil, false
	}
	return s, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
