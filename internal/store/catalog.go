package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"helmsman/internal/logging"
	"helmsman/internal/types"
)

// CatalogEntry is one alias row in the entity catalog. One alias may map to
// several canonical entities ("miami" to Miami, FL and Miami, OH); resolution
// treats multiple matches as ambiguity.
type CatalogEntry struct {
	ID       string
	Category string
	Name     string
	Alias    string
	Weight   float64
}

// UpsertCatalogEntries loads or refreshes catalog rows. Aliases are stored
// lowercased so lookups are case-insensitive.
func (s *LocalStore) UpsertCatalogEntries(ctx context.Context, entries []CatalogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin catalog tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entity_catalog (id, category, name, alias, weight)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(category, alias, id) DO UPDATE SET
			name = excluded.name, weight = excluded.weight`)
	if err != nil {
		return fmt.Errorf("failed to prepare catalog insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		weight := e.Weight
		if weight <= 0 {
			weight = 1.0
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.Category,
			e.Name, strings.ToLower(e.Alias), weight); err != nil {
			return fmt.Errorf("failed to insert catalog entry %s/%s: %w", e.Category, e.Alias, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit catalog tx: %w", err)
	}
	logging.StoreDebug("upserted %d catalog entries", len(entries))
	return nil
}

// LookupEntity returns canonical matches for an alias within a category,
// highest weight first.
func (s *LocalStore) LookupEntity(ctx context.Context, category, alias string) ([]types.ResolvedEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, weight FROM entity_catalog
		WHERE category = ? AND alias = ?
		ORDER BY weight DESC, name ASC`,
		category, strings.ToLower(strings.TrimSpace(alias)))
	if err != nil {
		return nil, fmt.Errorf("failed to query entity catalog: %w", err)
	}
	defer rows.Close()

	var matches []types.ResolvedEntity
	for rows.Next() {
		var m types.ResolvedEntity
		if err := rows.Scan(&m.ID, &m.Name, &m.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan catalog row: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// UpsertFieldMappings loads business-term to schema-field mappings.
func (s *LocalStore) UpsertFieldMappings(ctx context.Context, category string, mappings map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin field tx: %w", err)
	}
	defer tx.Rollback()

	for term, field := range mappings {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO field_catalog (category, term, field) VALUES (?, ?, ?)
			ON CONFLICT(category, term) DO UPDATE SET field = excluded.field`,
			category, strings.ToLower(term), field); err != nil {
			return fmt.Errorf("failed to insert field mapping %s: %w", term, err)
		}
	}
	return tx.Commit()
}

// LookupField maps a business term to its schema field. Empty when unknown.
func (s *LocalStore) LookupField(ctx context.Context, category, term string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var field string
	err := s.db.QueryRowContext(ctx, `
		SELECT field FROM field_catalog WHERE category = ? AND term = ?`,
		category, strings.ToLower(strings.TrimSpace(term))).Scan(&field)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query field catalog: %w", err)
	}
	return field, nil
}
