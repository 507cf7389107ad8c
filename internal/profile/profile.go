// Package profile lays out the per-profile data directories.
package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

var (
	ErrNotInitialized = errors.New("profile store not initialized")
	ErrInvalidID      = errors.New("invalid profile id")
)

// Paths are the locations owned by one profile.
type Paths struct {
	Profile   string `json:"profile"`
	Playlist  string `json:"m3u"`
	Images    string `json:"images"`
	Downloads string `json:"downloads"`
}

// Store resolves profile directories under <root>/profiles.
type Store struct {
	root   string
	logger zerolog.Logger
}

// NewStore creates a store rooted at the user data directory.
func NewStore(root string, logger zerolog.Logger) *Store {
	return &Store{
		root:   root,
		logger: logger.With().Str("component", "profile").Logger(),
	}
}

// Paths creates the profile's directories if needed and returns them.
func (s *Store) Paths(id string) (Paths, error) {
	if s == nil || s.root == "" {
		return Paths{}, ErrNotInitialized
	}
	if err := validateID(id); err != nil {
		return Paths{}, err
	}

	dir := filepath.Join(s.root, "profiles", id)
	p := Paths{
		Profile:   dir,
		Playlist:  filepath.Join(dir, "playlist.m3u"),
		Images:    filepath.Join(dir, "images"),
		Downloads: filepath.Join(dir, "downloads"),
	}
	for _, d := range []string{p.Profile, p.Images, p.Downloads} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return Paths{}, fmt.Errorf("failed to create %s: %w", d, err)
		}
	}
	return p, nil
}

// DownloadsDir returns the downloads directory for a profile.
func (s *Store) DownloadsDir(id string) (string, error) {
	p, err := s.Paths(id)
	if err != nil {
		return "", err
	}
	return p.Downloads, nil
}

// MigrateLegacy moves a pre-profile playlist and image cache from the data
// root into the given profile. Existing targets are left alone.
func (s *Store) MigrateLegacy(id string) error {
	p, err := s.Paths(id)
	if err != nil {
		return err
	}

	legacyPlaylist := filepath.Join(s.root, "playlist.m3u")
	if exists(legacyPlaylist) && !exists(p.Playlist) {
		s.logger.Info().Str("profile", id).Msg("Migrating legacy playlist")
		if err := os.Rename(legacyPlaylist, p.Playlist); err != nil {
			return fmt.Errorf("failed to migrate playlist: %w", err)
		}
	}

	legacyImages := filepath.Join(s.root, "images")
	entries, err := os.ReadDir(legacyImages)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(entries) > 0 {
		s.logger.Info().Str("profile", id).Int("count", len(entries)).Msg("Migrating legacy images")
	}
	for _, e := range entries {
		target := filepath.Join(p.Images, e.Name())
		if exists(target) {
			continue
		}
		if err := os.Rename(filepath.Join(legacyImages, e.Name()), target); err != nil {
			s.logger.Warn().Err(err).Str("file", e.Name()).Msg("Failed to migrate image")
		}
	}
	return nil
}

func validateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
