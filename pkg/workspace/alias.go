package workspace

import (
	"context"
	"errors"
	"strconv"

	"pagesync/pkg/db"
)

// IncrementAlias bumps the counter for prefix and returns the new value. The
// first allocation for a prefix returns 1. Counters are persisted in their own
// document so metadata writes can never roll them back.
func (m *EventManager) IncrementAlias(ctx context.Context, prefix string) (int64, error) {
	m.aliasMu.Lock()
	defer m.aliasMu.Unlock()

	key := m.key(db.KindAliases, aliasesDocID)
	counters := make(map[string]int64)
	if _, err := m.readJSON(ctx, key, &counters); err != nil {
		return 0, err
	}
	if counters == nil {
		counters = make(map[string]int64)
	}
	counters[prefix]++
	next := counters[prefix]
	if err := m.writeJSON(ctx, key, counters); err != nil {
		return 0, err
	}
	return next, nil
}

// NewAlias allocates "<prefix><counter>".
func (m *EventManager) NewAlias(ctx context.Context, prefix string) (string, error) {
	if prefix == "" {
		return "", errors.New("alias prefix is required")
	}
	n, err := m.IncrementAlias(ctx, prefix)
	if err != nil {
		return "", err
	}
	return prefix + strconv.FormatInt(n, 10), nil
}
