// Package library holds the catalog of game definitions a server can host.
package library

import (
	"fmt"
	"sort"
)

const (
	// MinPlayers is the smallest lobby any definition may declare.
	MinPlayers = 2
	// MaxPlayers is the largest lobby the dynamic deck supports.
	MaxPlayers = 10
)

// Definition describes a hostable game.
type Definition struct {
	ID          string
	Name        string
	Description string
	// MaxPlayers is the lobby size used when a session does not set one.
	MaxPlayers int
}

// Validate checks that the definition is complete and its lobby size is in range.
//
// Postcondition: Returns nil if valid, or an error naming the first violation.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("game ID must not be empty")
	}
	if d.Name == "" {
		return fmt.Errorf("game %q: name must not be empty", d.ID)
	}
	if d.MaxPlayers < MinPlayers || d.MaxPlayers > MaxPlayers {
		return fmt.Errorf("game %q: max_players must be between %d and %d, got %d",
			d.ID, MinPlayers, MaxPlayers, d.MaxPlayers)
	}
	return nil
}

// Library is an immutable index of definitions keyed by ID.
type Library struct {
	defs map[string]*Definition
}

// New builds a library from defs.
//
// Precondition: each definition must be valid.
// Postcondition: Returns an error if two definitions share an ID.
func New(defs ...*Definition) (*Library, error) {
	lib := &Library{defs: make(map[string]*Definition, len(defs))}
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := lib.defs[d.ID]; dup {
			return nil, fmt.Errorf("duplicate game ID %q", d.ID)
		}
		lib.defs[d.ID] = d
	}
	return lib, nil
}

// Get returns the definition with the given ID.
func (l *Library) Get(id string) (*Definition, bool) {
	d, ok := l.defs[id]
	return d, ok
}

// All returns every definition sorted by ID.
func (l *Library) All() []*Definition {
	out := make([]*Definition, 0, len(l.defs))
	for _, d := range l.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of definitions.
func (l *Library) Len() int {
	return len(l.defs)
}
