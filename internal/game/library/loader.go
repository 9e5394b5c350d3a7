package library

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// yamlGameFile is the top-level YAML structure for game definition files.
type yamlGameFile struct {
	Game yamlGame `yaml:"game"`
}

type yamlGame struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	MaxPlayers  int    `yaml:"max_players"`
}

// LoadDefinitionFromFile reads and validates a single game definition file.
//
// Precondition: path must point to a YAML game definition.
// Postcondition: Returns a validated Definition or a non-nil error.
func LoadDefinitionFromFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading game file %s: %w", path, err)
	}
	return LoadDefinitionFromBytes(data)
}

// LoadDefinitionFromBytes parses and validates a game definition from YAML bytes.
func LoadDefinitionFromBytes(data []byte) (*Definition, error) {
	var file yamlGameFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing game YAML: %w", err)
	}

	def := &Definition{
		ID:          file.Game.ID,
		Name:        file.Game.Name,
		Description: strings.TrimSpace(file.Game.Description),
		MaxPlayers:  file.Game.MaxPlayers,
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("validating game: %w", err)
	}
	return def, nil
}

// LoadFromDir loads every YAML file in dir into a Library. Files that fail
// to parse or validate, and definitions repeating an earlier ID, are logged
// and skipped.
//
// Precondition: dir must be a valid directory path; logger must be non-nil.
// Postcondition: Returns a library with at least one definition, or an error
// if the directory is unreadable or holds no valid definition.
func LoadFromDir(dir string, logger *zap.Logger) (*Library, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading game directory %s: %w", dir, err)
	}

	var defs []*Definition
	seen := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		def, err := LoadDefinitionFromFile(filepath.Join(dir, name))
		if err != nil {
			logger.Warn("skipping game file", zap.String("file", name), zap.Error(err))
			continue
		}
		if first, dup := seen[def.ID]; dup {
			logger.Warn("skipping duplicate game id",
				zap.String("file", name),
				zap.String("game_id", def.ID),
				zap.String("first_file", first),
			)
			continue
		}
		seen[def.ID] = name
		defs = append(defs, def)
	}

	if len(defs) == 0 {
		return nil, fmt.Errorf("no valid game files found in %s", dir)
	}

	return New(defs...)
}
