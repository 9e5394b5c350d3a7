package ws

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/form3tech-oss/jwt-go"
	"github.com/google/uuid"
)

// RequestInfo is what a handshake resolver sees of the upgrade request.
type RequestInfo struct {
	RemoteAddr string
	Path       string
	Query      url.Values
	Header     http.Header
}

// Route is an accepted handshake: who is connecting and to which session.
type Route struct {
	PlayerID  uuid.UUID
	SessionID uuid.UUID
	// Password is forwarded to the session join.
	Password string
	// Verified is set when the resolver already authorized the player for
	// the session, so no password check is needed on join.
	Verified bool
}

// Rejection refuses a handshake with an HTTP status.
type Rejection struct {
	Status int
	Reason string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("handshake rejected (%d): %s", r.Status, r.Reason)
}

// Reject builds a Rejection.
func Reject(status int, format string, args ...any) *Rejection {
	return &Rejection{Status: status, Reason: fmt.Sprintf(format, args...)}
}

// HandshakeResolver decides, before any upgrade, whether a connection is
// admitted and where it is routed.
type HandshakeResolver interface {
	ResolveHandshake(info RequestInfo) (Route, *Rejection)
}

// ResolverFunc adapts a function to HandshakeResolver.
type ResolverFunc func(info RequestInfo) (Route, *Rejection)

// ResolveHandshake calls f.
func (f ResolverFunc) ResolveHandshake(info RequestInfo) (Route, *Rejection) {
	return f(info)
}

// SessionLookup reports whether a session exists. A nil lookup admits any id.
type SessionLookup interface {
	Exists(id uuid.UUID) bool
}

func checkSession(lookup SessionLookup, id uuid.UUID) *Rejection {
	if lookup != nil && !lookup.Exists(id) {
		return Reject(http.StatusNotFound, "session %s not found", id)
	}
	return nil
}

// QueryResolver reads the route from query parameters: session_id
// (required), player_id (optional; a fresh id is assigned when absent), and
// password (optional).
type QueryResolver struct {
	Sessions SessionLookup
}

// ResolveHandshake implements HandshakeResolver.
func (q QueryResolver) ResolveHandshake(info RequestInfo) (Route, *Rejection) {
	raw := info.Query.Get("session_id")
	if raw == "" {
		return Route{}, Reject(http.StatusBadRequest, "missing session_id")
	}
	sessionID, err := uuid.Parse(raw)
	if err != nil {
		return Route{}, Reject(http.StatusBadRequest, "invalid session_id")
	}

	playerID := uuid.New()
	if raw := info.Query.Get("player_id"); raw != "" {
		playerID, err = uuid.Parse(raw)
		if err != nil {
			return Route{}, Reject(http.StatusBadRequest, "invalid player_id")
		}
	}

	if rej := checkSession(q.Sessions, sessionID); rej != nil {
		return Route{}, rej
	}
	return Route{
		PlayerID:  playerID,
		SessionID: sessionID,
		Password:  info.Query.Get("password"),
	}, nil
}

// TokenResolver admits connections bearing an HS256 token in the "token"
// query parameter. Tokens carry the player id in "sub" and the session id
// in "sid", and are issued by the same resolver.
type TokenResolver struct {
	secret   []byte
	ttl      time.Duration
	sessions SessionLookup
	now      func() time.Time
}

// NewTokenResolver creates a TokenResolver.
//
// Precondition: secret must be non-empty; ttl must be positive.
func NewTokenResolver(secret string, ttl time.Duration, sessions SessionLookup) *TokenResolver {
	return &TokenResolver{
		secret:   []byte(secret),
		ttl:      ttl,
		sessions: sessions,
		now:      time.Now,
	}
}

// Issue signs a token admitting playerID to sessionID.
func (t *TokenResolver) Issue(playerID, sessionID uuid.UUID) (string, error) {
	now := t.now()
	claims := jwt.MapClaims{
		"sub": playerID.String(),
		"sid": sessionID.String(),
		"iat": now.Unix(),
		"exp": now.Add(t.ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("signing handshake token: %w", err)
	}
	return signed, nil
}

// ResolveHandshake implements HandshakeResolver.
func (t *TokenResolver) ResolveHandshake(info RequestInfo) (Route, *Rejection) {
	raw := info.Query.Get("token")
	if raw == "" {
		return Route{}, Reject(http.StatusUnauthorized, "missing token")
	}

	claims, err := t.parse(raw)
	if err != nil {
		return Route{}, Reject(http.StatusUnauthorized, "invalid token")
	}

	playerID, err := uuidClaim(claims, "sub")
	if err != nil {
		return Route{}, Reject(http.StatusUnauthorized, "invalid token subject")
	}
	sessionID, err := uuidClaim(claims, "sid")
	if err != nil {
		return Route{}, Reject(http.StatusUnauthorized, "invalid token session")
	}

	if rej := checkSession(t.sessions, sessionID); rej != nil {
		return Route{}, rej
	}
	return Route{PlayerID: playerID, SessionID: sessionID, Verified: true}, nil
}

func (t *TokenResolver) parse(raw string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if !claims.VerifyExpiresAt(t.now().Unix(), true) {
		return nil, errors.New("token expired")
	}
	return claims, nil
}

func uuidClaim(claims jwt.MapClaims, name string) (uuid.UUID, error) {
	raw, ok := claims[name].(string)
	if !ok {
		return uuid.Nil, fmt.Errorf("claim %q missing", name)
	}
	return uuid.Parse(raw)
}
