// Package readstate persists per-chat read indexes and forwards advances to
// the message store.
package readstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/tOgg1/chathistory/internal/logging"
	"github.com/tOgg1/chathistory/internal/models"
)

const (
	CurrentVersion = 1

	defaultDebounce = 1 * time.Second
)

// State is the on-disk read state document.
type State struct {
	Version int                  `json:"version"`
	Chats   map[string]ChatState `json:"chats,omitempty"`
}

// ChatState holds the read index of every namespace of one chat.
type ChatState struct {
	ReadIndexes map[string]models.MessageIndex `json:"read_indexes,omitempty"` // namespace -> max read index
	UpdatedAt   time.Time                      `json:"updated_at,omitempty"`
}

// Advance is a read index change handed to the sink.
type Advance struct {
	Chat      string
	Namespace int32
	Index     models.MessageIndex
}

// SinkFunc receives advances after they were persisted.
type SinkFunc func(advances []Advance)

type Manager struct {
	path     string
	lockPath string
	sink     SinkFunc

	mu       sync.Mutex
	state    State
	pending  map[string]Advance
	dirty    bool
	timer    *time.Timer
	debounce time.Duration
}

// New creates a manager persisting to path. An empty path keeps state in memory.
func New(path string, sink SinkFunc) *Manager {
	path = strings.TrimSpace(path)
	lockPath := ""
	if path != "" {
		lockPath = path + ".lock"
	}
	return &Manager{
		path:     path,
		lockPath: lockPath,
		sink:     sink,
		state:    State{Version: CurrentVersion, Chats: make(map[string]ChatState)},
		pending:  make(map[string]Advance),
		debounce: defaultDebounce,
	}
}

// SetDebounce changes the delay between an advance and the write.
func (m *Manager) SetDebounce(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d > 0 {
		m.debounce = d
	}
}

func (m *Manager) Path() string { return m.path }

func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.path == "" {
		return nil
	}

	loaded, err := m.loadLocked()
	if err != nil {
		return err
	}
	m.state = loaded
	m.dirty = false
	return nil
}

// ReadIndex returns the persisted read index of a chat namespace.
func (m *Manager) ReadIndex(chat string, namespace int32) (models.MessageIndex, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	index, ok := m.state.Chats[chat].ReadIndexes[nsKey(namespace)]
	return index, ok
}

// Advance raises the read index of a chat namespace. Lower or equal
// indexes are ignored. It reports whether the index moved.
func (m *Manager) Advance(chat string, namespace int32, index models.MessageIndex) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	chat = strings.TrimSpace(chat)
	if chat == "" {
		return false
	}
	key := nsKey(namespace)
	cs := m.state.Chats[chat]
	if prev, ok := cs.ReadIndexes[key]; ok && !prev.Less(index) {
		return false
	}
	if cs.ReadIndexes == nil {
		cs.ReadIndexes = make(map[string]models.MessageIndex)
	}
	cs.ReadIndexes[key] = index
	cs.UpdatedAt = time.Now().UTC()
	if m.state.Chats == nil {
		m.state.Chats = make(map[string]ChatState)
	}
	m.state.Chats[chat] = cs
	m.pending[chat+"/"+key] = Advance{Chat: chat, Namespace: namespace, Index: index}
	m.markDirtyLocked()
	return true
}

// ForChat returns a writer bound to one chat.
func (m *Manager) ForChat(chat string) *ChatWriter {
	return &ChatWriter{manager: m, chat: chat}
}

// Close stops the debounce timer and writes pending changes.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	needsSave := m.dirty
	m.mu.Unlock()
	if !needsSave {
		return nil
	}
	return m.SaveNow()
}

// SaveNow writes the state and hands pending advances to the sink.
func (m *Manager) SaveNow() error {
	m.mu.Lock()
	state := cloneState(m.state)
	advances := make([]Advance, 0, len(m.pending))
	for _, adv := range m.pending {
		advances = append(advances, adv)
	}
	m.pending = make(map[string]Advance)
	m.dirty = false
	m.mu.Unlock()

	state.Version = CurrentVersion
	if m.path != "" {
		if err := withFileLock(m.lockPath, func() error {
			return writeAtomicJSON(m.path, state)
		}); err != nil {
			m.mu.Lock()
			m.dirty = true
			for _, adv := range advances {
				m.pending[adv.Chat+"/"+nsKey(adv.Namespace)] = adv
			}
			m.mu.Unlock()
			return err
		}
	}

	if m.sink != nil && len(advances) > 0 {
		m.sink(advances)
	}
	return nil
}

func (m *Manager) markDirtyLocked() {
	m.dirty = true
	if m.timer == nil {
		m.timer = time.AfterFunc(m.debounce, func() {
			if err := m.SaveNow(); err != nil {
				logger := logging.Component("readstate")
				logger.Warn().Err(err).Str("path", m.path).Msg("failed to save read state")
			}
		})
		return
	}
	_ = m.timer.Reset(m.debounce)
}

func (m *Manager) loadLocked() (State, error) {
	var out State
	if err := withFileLock(m.lockPath, func() error {
		payload, err := os.ReadFile(m.path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				out = State{Version: CurrentVersion}
				return nil
			}
			return err
		}
		if len(payload) == 0 {
			out = State{Version: CurrentVersion}
			return nil
		}
		return json.Unmarshal(payload, &out)
	}); err != nil {
		return State{}, fmt.Errorf("failed to load read state: %w", err)
	}

	if out.Version <= 0 {
		out.Version = CurrentVersion
	}
	if out.Chats == nil {
		out.Chats = make(map[string]ChatState)
	}
	return out, nil
}

// ChatWriter forwards read index advances of one chat to the manager.
type ChatWriter struct {
	manager *Manager
	chat    string
}

// AdvanceReadIndex implements visibility.ReadStateWriter.
func (w *ChatWriter) AdvanceReadIndex(namespace int32, index models.MessageIndex) {
	w.manager.Advance(w.chat, namespace, index)
}

func nsKey(namespace int32) string {
	return strconv.FormatInt(int64(namespace), 10)
}

func withFileLock(lockPath string, fn func() error) error {
	if strings.TrimSpace(lockPath) == "" {
		return fn()
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("lock %s: %w", lockPath, err)
	}
	defer func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	}()
	return fn()
}

func writeAtomicJSON(path string, state State) error {
	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func cloneState(state State) State {
	out := state
	out.Chats = make(map[string]ChatState, len(state.Chats))
	for chat, cs := range state.Chats {
		indexes := make(map[string]models.MessageIndex, len(cs.ReadIndexes))
		for k, v := range cs.ReadIndexes {
			indexes[k] = v
		}
		cs.ReadIndexes = indexes
		out.Chats[chat] = cs
	}
	return out
}
