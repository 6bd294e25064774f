package anchor

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// SavedPosition is a persisted scroll anchor.
type SavedPosition struct {
	Anchor    ScrollAnchor `yaml:"anchor"`
	UpdatedAt time.Time    `yaml:"updated_at,omitempty"`
}

type positionFile struct {
	Chats map[string]SavedPosition `yaml:"chats,omitempty"`
}

// PositionStore persists the scroll anchor of each chat so the view can
// reopen where the user left it.
type PositionStore struct {
	path string
	mu   sync.RWMutex
}

// NewPositionStore creates a store. If path is empty, uses
// ~/.config/chathistory/positions.yaml.
func NewPositionStore(path string) *PositionStore {
	if path == "" {
		homeDir, _ := os.UserHomeDir()
		path = filepath.Join(homeDir, ".config", "chathistory", "positions.yaml")
	}
	return &PositionStore{path: path}
}

// Path returns the positions file path.
func (s *PositionStore) Path() string {
	return s.path
}

// Load returns the saved anchor of chat.
func (s *PositionStore) Load(chat string) (ScrollAnchor, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	file, err := s.read()
	if err != nil {
		return ScrollAnchor{}, false, err
	}
	saved, ok := file.Chats[chat]
	return saved.Anchor, ok, nil
}

// Save records the anchor of chat.
func (s *PositionStore) Save(chat string, a ScrollAnchor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.read()
	if err != nil {
		return err
	}
	if file.Chats == nil {
		file.Chats = make(map[string]SavedPosition)
	}
	file.Chats[chat] = SavedPosition{Anchor: a, UpdatedAt: time.Now().UTC()}
	return s.write(file)
}

// Forget removes the saved anchor of chat, e.g. when the user left the
// view scrolled to the bottom.
func (s *PositionStore) Forget(chat string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := file.Chats[chat]; !ok {
		return nil
	}
	delete(file.Chats, chat)
	return s.write(file)
}

func (s *PositionStore) read() (positionFile, error) {
	var file positionFile
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return file, nil
		}
		return file, fmt.Errorf("failed to read positions file: %w", err)
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return file, fmt.Errorf("failed to parse positions file: %w", err)
	}
	return file, nil
}

func (s *PositionStore) write(file positionFile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create positions directory: %w", err)
	}
	data, err := yaml.Marshal(file)
	if err != nil {
		return fmt.Errorf("failed to serialize positions: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write positions file: %w", err)
	}
	return nil
}
