package session

import (
	"fmt"
	"iter"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/cory-johannsen/uno/internal/game/library"
	"github.com/cory-johannsen/uno/internal/game/random"
	"github.com/cory-johannsen/uno/internal/game/uno"
)

// DefaultMaxPlayers is the roster cap used when neither the settings nor a
// library definition supply one.
const DefaultMaxPlayers = 4

// Registry is the process-wide index of live sessions.
// All methods are safe for concurrent use.
type Registry struct {
	logger            *zap.Logger
	library           *library.Library
	newID             func() uuid.UUID
	newSource         func() random.Source
	outboxSize        int
	defaultMaxPlayers int

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// Option configures a Registry.
type Option func(*Registry)

// WithLibrary restricts sessions to games defined in lib and takes default
// roster caps from it.
func WithLibrary(lib *library.Library) Option {
	return func(r *Registry) { r.library = lib }
}

// WithOutboxSize sets the per-member event buffer size.
func WithOutboxSize(n int) Option {
	return func(r *Registry) { r.outboxSize = n }
}

// WithDefaultMaxPlayers sets the roster cap used for games without a library default.
func WithDefaultMaxPlayers(n int) Option {
	return func(r *Registry) { r.defaultMaxPlayers = n }
}

// WithIDGenerator replaces the session id generator.
func WithIDGenerator(fn func() uuid.UUID) Option {
	return func(r *Registry) { r.newID = fn }
}

// WithRandomSource replaces the shuffle source factory; it is called once per session.
func WithRandomSource(fn func() random.Source) Option {
	return func(r *Registry) { r.newSource = fn }
}

// NewRegistry creates an empty Registry.
//
// Precondition: logger must be non-nil.
func NewRegistry(logger *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		logger:            logger,
		newID:             uuid.New,
		newSource:         random.NewCryptoSource,
		outboxSize:        DefaultOutboxSize,
		defaultMaxPlayers: DefaultMaxPlayers,
		sessions:          make(map[uuid.UUID]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create starts a new empty session for gameID.
//
// Postcondition: Returns a session registered under an id unique within the
// registry, or an error wrapping ErrUnknownGame or ErrInvalidSettings.
func (r *Registry) Create(gameID string, settings Settings) (*Session, error) {
	maxPlayers := settings.MaxPlayers
	if r.library != nil {
		def, ok := r.library.Get(gameID)
		if !ok {
			return nil, fmt.Errorf("%q: %w", gameID, ErrUnknownGame)
		}
		if maxPlayers == 0 {
			maxPlayers = def.MaxPlayers
		}
	}
	if maxPlayers == 0 {
		maxPlayers = r.defaultMaxPlayers
	}
	if maxPlayers < library.MinPlayers || maxPlayers > library.MaxPlayers {
		return nil, fmt.Errorf("max_players %d not in [%d, %d]: %w",
			maxPlayers, library.MinPlayers, library.MaxPlayers, ErrInvalidSettings)
	}

	var hash []byte
	if settings.Password != "" {
		var err error
		hash, err = bcrypt.GenerateFromPassword([]byte(settings.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hashing session password: %w", err)
		}
	}

	s := &Session{
		gameID:       gameID,
		public:       settings.Public,
		maxPlayers:   maxPlayers,
		passwordHash: hash,
		outboxSize:   r.outboxSize,
		logger:       r.logger,
		game:         uno.New(r.newSource(), maxPlayers),
		members:      make(map[uuid.UUID]*Outbox),
	}

	r.mu.Lock()
	id := r.newID()
	for {
		if _, taken := r.sessions[id]; !taken {
			break
		}
		id = r.newID()
	}
	s.id = id
	r.sessions[id] = s
	r.mu.Unlock()

	r.logger.Info("session created",
		zap.Stringer("session_id", id),
		zap.String("game_id", gameID),
		zap.Bool("public", settings.Public),
		zap.Int("max_players", maxPlayers),
	)
	return s, nil
}

// Get returns the session with the given id.
func (r *Registry) Get(id uuid.UUID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Exists reports whether a session with the given id is live.
func (r *Registry) Exists(id uuid.UUID) bool {
	_, ok := r.Get(id)
	return ok
}

// Join seats playerID in the session and registers its outbox.
//
// Postcondition: Returns the member handle, or an error wrapping one of
// ErrSessionNotFound, ErrSessionFull, ErrBadPassword, ErrAlreadyJoined.
func (r *Registry) Join(sessionID, playerID uuid.UUID, password string) (*Member, error) {
	s, ok := r.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.join(playerID, password, false)
}

// JoinVerified seats playerID without a password check, for players the
// handshake already authorized for this session.
func (r *Registry) JoinVerified(sessionID, playerID uuid.UUID) (*Member, error) {
	s, ok := r.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.join(playerID, "", true)
}

// Leave removes playerID from the session's roster and game. The session persists.
func (r *Registry) Leave(sessionID, playerID uuid.UUID) error {
	s, ok := r.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	return s.leave(playerID)
}

// Close removes the session from the registry and closes every member outbox.
func (r *Registry) Close(id uuid.UUID) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	s.close()
	r.logger.Info("session closed", zap.Stringer("session_id", id))
	return nil
}

// PublicSessions yields every public session. The index is snapshotted
// under the read lock; iteration runs without it.
func (r *Registry) PublicSessions() iter.Seq[*Session] {
	return func(yield func(*Session) bool) {
		r.mu.RLock()
		snapshot := make([]*Session, 0, len(r.sessions))
		for _, s := range r.sessions {
			if s.public {
				snapshot = append(snapshot, s)
			}
		}
		r.mu.RUnlock()

		for _, s := range snapshot {
			if !yield(s) {
				return
			}
		}
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
