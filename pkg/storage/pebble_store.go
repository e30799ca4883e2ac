// Package storage is the pebble-backed alternative to the per-market cooldown
// files, plus an append-only journal of engine decisions.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cockroachdb/pebble"

	"github.com/uhyunpark/polymaker/pkg/risk"
	"github.com/uhyunpark/polymaker/pkg/trader"
)

type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

var (
	_ risk.CooldownStore  = (*PebbleStore)(nil)
	_ risk.CooldownLister = (*PebbleStore)(nil)
)

// ============================================================================
// Cooldowns
// ============================================================================

// Load returns nil when the market has no cooldown record.
func (s *PebbleStore) Load(conditionID string) (*risk.Cooldown, error) {
	data, closer, err := s.db.Get(cooldownKey(conditionID))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cooldown: %w", err)
	}
	defer closer.Close()

	var c risk.Cooldown
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cooldown: %w", err)
	}
	return &c, nil
}

func (s *PebbleStore) Save(conditionID string, c risk.Cooldown) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal cooldown: %w", err)
	}
	if err := s.db.Set(cooldownKey(conditionID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save cooldown: %w", err)
	}
	return nil
}

func (s *PebbleStore) Delete(conditionID string) error {
	if err := s.db.Delete(cooldownKey(conditionID), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete cooldown: %w", err)
	}
	return nil
}

// List returns every stored cooldown keyed by condition id.
func (s *PebbleStore) List() (map[string]risk.Cooldown, error) {
	prefix := []byte(prefixCooldown)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	out := make(map[string]risk.Cooldown)
	for iter.First(); iter.Valid(); iter.Next() {
		var c risk.Cooldown
		if err := json.Unmarshal(iter.Value(), &c); err != nil {
			continue // Skip invalid entries
		}
		out[strings.TrimPrefix(string(iter.Key()), prefixCooldown)] = c
	}
	return out, nil
}

// ============================================================================
// Decision journal
// ============================================================================

// SaveDecision appends a decision to the journal.
func (s *PebbleStore) SaveDecision(d trader.Decision) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}
	key := decisionKey(d.Time.UnixNano(), d.ID)
	if err := s.db.Set(key, data, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to save decision: %w", err)
	}
	return nil
}

// RecentDecisions returns up to limit decisions, newest first.
func (s *PebbleStore) RecentDecisions(limit int) ([]trader.Decision, error) {
	prefix := []byte(prefixDecision)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	var out []trader.Decision
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		var d trader.Decision
		if err := json.Unmarshal(iter.Value(), &d); err != nil {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}
