package risk

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Cooldown is the durable record of a risk-off period for one market.
type Cooldown struct {
	Time      time.Time `json:"time"`
	Question  string    `json:"question,omitempty"`
	Message   string    `json:"message"`
	SleepTill time.Time `json:"sleep_till"`
}

// Active reports whether buys are still suppressed at now.
func (c *Cooldown) Active(now time.Time) bool {
	return c != nil && now.Before(c.SleepTill)
}

// CooldownStore persists cooldown records. Load returns (nil, nil) when the
// market has no record.
type CooldownStore interface {
	Load(market string) (*Cooldown, error)
	Save(market string, c Cooldown) error
	Delete(market string) error
}

// CooldownLister is implemented by stores that can enumerate their records.
type CooldownLister interface {
	List() (map[string]Cooldown, error)
}

// FileStore keeps one JSON file per market under a directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cooldown dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(market string) (string, error) {
	if market == "" || strings.ContainsAny(market, `/\`) || market == "." || market == ".." {
		return "", fmt.Errorf("invalid market id %q", market)
	}
	return filepath.Join(s.dir, market+".json"), nil
}

func (s *FileStore) Load(market string) (*Cooldown, error) {
	path, err := s.path(market)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cooldown: %w", err)
	}

	var c Cooldown
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cooldown: %w", err)
	}
	return &c, nil
}

// Save writes through a temp file and rename so a crash never leaves a
// truncated record.
func (s *FileStore) Save(market string, c Cooldown) error {
	path, err := s.path(market)
	if err != nil {
		return err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal cooldown: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write cooldown: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to save cooldown: %w", err)
	}
	return nil
}

func (s *FileStore) Delete(market string) error {
	path, err := s.path(market)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete cooldown: %w", err)
	}
	return nil
}

func (s *FileStore) List() (map[string]Cooldown, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list cooldowns: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, strings.TrimSuffix(e.Name(), ".json"))
		}
	}
	sort.Strings(names)

	out := make(map[string]Cooldown, len(names))
	for _, market := range names {
		c, err := s.Load(market)
		if err != nil || c == nil {
			continue // skip unreadable records
		}
		out[market] = *c
	}
	return out, nil
}
