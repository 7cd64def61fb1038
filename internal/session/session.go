// Package session persists chat history as one JSON file per session.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Leptons1618/nexa/internal/log"
)

// Message is one chat turn.
type Message struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Session is the full stored record.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	Documents []string  `json:"documents"`
	CreatedAt string    `json:"created_at"`
	UpdatedAt string    `json:"updated_at"`
}

// Summary is the listing view of a session.
type Summary struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	MessageCount  int    `json:"message_count"`
	DocumentCount int    `json:"document_count"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// Store keeps sessions under one directory, one file per session.
type Store struct {
	dir    string
	logger log.Logger
}

// NewStore creates the directory if needed.
func NewStore(dir string, logger log.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &Store{dir: dir, logger: logger.With("component", "session")}, nil
}

// path maps a session id to its file, neutralizing separators so an id can
// never escape the store directory.
func (s *Store) path(id string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(id)
	return filepath.Join(s.dir, safe+".json")
}

// List returns summaries of all sessions, newest first by file modification
// time. Corrupt files are skipped with a warning, never fatal.
func (s *Store) List() ([]Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read session dir: %w", err)
	}

	type item struct {
		summary Summary
		mtime   time.Time
	}
	var items []item
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())

		var sess Session
		if err := readJSON(path, &sess); err != nil {
			s.logger.Warn("skipping corrupt session file", "path", path, "error", err)
			continue
		}
		if sess.ID == "" {
			sess.ID = strings.TrimSuffix(entry.Name(), ".json")
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		items = append(items, item{
			summary: Summary{
				ID:            sess.ID,
				Title:         sess.Title,
				MessageCount:  len(sess.Messages),
				DocumentCount: len(sess.Documents),
				CreatedAt:     sess.CreatedAt,
				UpdatedAt:     sess.UpdatedAt,
			},
			mtime: info.ModTime(),
		})
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].mtime.After(items[j].mtime) })

	summaries := make([]Summary, len(items))
	for i, it := range items {
		summaries[i] = it.summary
	}
	return summaries, nil
}

// Get returns a session, or nil when it does not exist or cannot be read.
func (s *Store) Get(id string) (*Session, error) {
	path := s.path(id)
	var sess Session
	if err := readJSON(path, &sess); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session %s: %w", id, err)
	}
	return &sess, nil
}

// Save creates or updates a session. created_at is preserved across updates;
// updated_at is always stamped now.
func (s *Store) Save(sess Session) (*Session, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	sess.UpdatedAt = now
	sess.CreatedAt = now

	var existing Session
	if err := readJSON(s.path(sess.ID), &existing); err == nil && existing.CreatedAt != "" {
		sess.CreatedAt = existing.CreatedAt
	}

	if sess.Messages == nil {
		sess.Messages = []Message{}
	}
	if sess.Documents == nil {
		sess.Documents = []string{}
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	if err := os.WriteFile(s.path(sess.ID), data, 0o644); err != nil {
		return nil, fmt.Errorf("write session %s: %w", sess.ID, err)
	}

	s.logger.Info("session saved", "id", sess.ID, "messages", len(sess.Messages))
	return &sess, nil
}

// Delete removes a session and best-effort deletes its uploaded documents.
// Returns false when the session does not exist.
func (s *Store) Delete(id string) (bool, error) {
	path := s.path(id)

	var sess Session
	if err := readJSON(path, &sess); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		// Corrupt file: still remove it below.
		s.logger.Warn("deleting unreadable session file", "id", id, "error", err)
	}

	for _, doc := range sess.Documents {
		if err := os.Remove(doc); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove session document", "path", doc, "error", err)
		}
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("delete session %s: %w", id, err)
	}
	s.logger.Info("session deleted", "id", id)
	return true, nil
}

func readJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
