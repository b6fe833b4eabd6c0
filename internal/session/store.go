// Package session implements the one-file-per-session store (spec
// §4.8): atomic save, load by id, list, and prefix resolution. Grounded
// in the teacher's internal/session/store.go for the BaseDir/project
// layout and in internal/tool/write.go's writeAtomic pattern (reused
// here verbatim in shape, since spec §4.8 requires the same
// temp-file-in-same-dir + fsync + rename guarantee), in place of the
// teacher's JSONL-append-per-event model, which spec §4.8 supersedes
// with one committed file per session.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/scottyj503/chet/internal/provider"
)

// Mode is a session's interaction mode.
type Mode string

const (
	ModeNormal Mode = "normal"
	ModePlan   Mode = "plan"
)

// Session is the persisted shape of one conversation (spec §3's
// Session entity, spec §6's "Persisted session file").
type Session struct {
	ID        string             `json:"id"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
	Label     string             `json:"label,omitempty"`
	Mode      Mode               `json:"mode"`
	Messages  []provider.Message `json:"messages"`

	CumulativeUsage provider.Usage `json:"cumulative_usage"`

	// SessionRules holds session-scoped permission rules; never written
	// to the config file, only carried untouched through save/load and
	// compaction. The permission engine keeps its "yes-session" grants
	// in memory and does not write them here.
	SessionRules []SessionRule `json:"session_rules,omitempty"`
}

// SessionRule mirrors the shape internal/permission.Rule needs to
// reconstruct a session-scoped rule on load, without this package
// importing internal/permission (which would create a cycle, since
// the permission engine is constructed per-session by the caller).
type SessionRule struct {
	ToolPattern string `json:"tool_pattern"`
	ArgsKey     string `json:"args_key,omitempty"`
	ArgsGlob    string `json:"args_glob,omitempty"`
	Level       string `json:"level"`
}

// ErrNotFound is returned when no session matches a given id or prefix.
var ErrNotFound = errors.New("session not found")

// ErrAmbiguousPrefix is returned when a prefix matches more than one
// session id.
var ErrAmbiguousPrefix = errors.New("ambiguous session id prefix")

// Store manages one-file-per-session persistence under Dir.
type Store struct {
	// Dir is the directory holding one JSON file per session, named
	// "<id>.json".
	Dir string
}

// NewStore constructs a Store rooted at dir, creating it if absent.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &Store{Dir: dir}, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.Dir, id+".json")
}

// Save persists sess atomically: marshal to a temp file in s.Dir,
// fsync, then rename over the target path. A failure at any step
// leaves the previously committed file (if any) untouched.
func (s *Store) Save(sess *Session) error {
	if sess.ID == "" {
		return errors.New("session id required")
	}
	sess.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return writeAtomic(s.path(sess.ID), data)
}

// ArchivePath returns the path compaction archives a snapshot of id to,
// per spec §4.8's "<id>.pre-compact-<timestamp>.json" naming.
func (s *Store) ArchivePath(id string, timestamp time.Time) string {
	return filepath.Join(s.Dir, fmt.Sprintf("%s.pre-compact-%d.json", id, timestamp.Unix()))
}

// Archive writes a snapshot of sess to its pre-compact archive path,
// atomically, so the transcript compaction is about to replace is never
// lost (spec §4.9 step 1).
func (s *Store) Archive(sess *Session, timestamp time.Time) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session archive: %w", err)
	}
	return writeAtomic(s.ArchivePath(sess.ID, timestamp), data)
}

// Load reads the session with the given full id.
func (s *Store) Load(id string) (*Session, error) {
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", id, err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", id, err)
	}
	return &sess, nil
}

// summary pairs a session ID with its file's modification time so List
// can sort by recency without unmarshalling any transcript.
type summary struct {
	ID        string
	Label     string
	UpdatedAt time.Time
}

// List returns every session id in the store, most recently updated
// first.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("read session dir: %w", err)
	}

	var summaries []summary
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") || strings.Contains(entry.Name(), ".pre-compact-") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		info, err := entry.Info()
		if err != nil {
			continue
		}
		summaries = append(summaries, summary{ID: id, UpdatedAt: info.ModTime()})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})

	ids := make([]string, 0, len(summaries))
	for _, item := range summaries {
		ids = append(ids, item.ID)
	}
	return ids, nil
}

// ResolvePrefix resolves a possibly-abbreviated session id to the one
// full id it uniquely identifies (spec §4.8).
func (s *Store) ResolvePrefix(prefix string) (string, error) {
	ids, err := s.List()
	if err != nil {
		return "", err
	}
	var matches []string
	for _, id := range ids {
		if strings.HasPrefix(id, prefix) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return "", ErrNotFound
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %q matches %d sessions", ErrAmbiguousPrefix, prefix, len(matches))
	}
}

// AutoLabel trims firstPrompt to a single-line label, truncating at a
// reasonable display width (spec §4.8's "trimmed first-line prefix").
func AutoLabel(firstPrompt string) string {
	line := firstPrompt
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	const maxLen = 60
	if len(line) > maxLen {
		line = strings.TrimSpace(line[:maxLen]) + "…"
	}
	return line
}

// writeAtomic writes data to path via a temp file in the same
// directory, fsync, then rename, so a crash or interrupted write never
// leaves a truncated session file in place of the last committed one.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
