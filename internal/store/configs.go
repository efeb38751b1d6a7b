package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/datagate/internal/command"
)

// ErrConfigNotFound is returned by FindConfig when nothing is stored.
var ErrConfigNotFound = errors.New("config not found")

// LabelError reports a qualifier or name that cannot be used as a storage key.
type LabelError struct {
	Label string
}

// Error implements the error interface.
func (e *LabelError) Error() string {
	return fmt.Sprintf("illegal config label %q", e.Label)
}

// Locator returns the identifier of a stored configuration.
func Locator(qualifier, name string) string {
	return qualifier + "##" + name
}

// SaveConfig stores content under (qualifier, name), replacing any previous
// content, and returns its locator.
func (s *Store) SaveConfig(ctx context.Context, qualifier, name string, content []byte) (string, error) {
	if err := checkLabels(qualifier, name); err != nil {
		return "", err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO configs (qualifier, name, content) VALUES (?, ?, ?)
		ON CONFLICT(qualifier, name) DO UPDATE SET
			content = excluded.content,
			revision = configs.revision + 1
	`, qualifier, name, content)
	if err != nil {
		return "", fmt.Errorf("save config %s: %w", Locator(qualifier, name), err)
	}
	return Locator(qualifier, name), nil
}

// ClearConfigs removes every configuration stored for qualifier.
func (s *Store) ClearConfigs(ctx context.Context, qualifier string) error {
	if err := checkLabels(qualifier); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM configs WHERE qualifier = ?`, qualifier); err != nil {
		return fmt.Errorf("clear configs %s: %w", qualifier, err)
	}
	return nil
}

// FindConfig returns the content stored under (qualifier, name).
func (s *Store) FindConfig(ctx context.Context, qualifier, name string) ([]byte, error) {
	var content []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM configs WHERE qualifier = ? AND name = ?`, qualifier, name,
	).Scan(&content)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", Locator(qualifier, name), ErrConfigNotFound)
		}
		return nil, fmt.Errorf("find config %s: %w", Locator(qualifier, name), err)
	}
	return content, nil
}

// StoredConfig is one persisted configuration.
type StoredConfig struct {
	Qualifier string
	Name      string
	Content   []byte
	Revision  int64
}

// FindAllConfigs returns every configuration stored under name, ordered by qualifier.
func (s *Store) FindAllConfigs(ctx context.Context, name string) ([]StoredConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT qualifier, name, content, revision FROM configs
		WHERE name = ?
		ORDER BY qualifier COLLATE BINARY ASC
	`, name)
	if err != nil {
		return nil, fmt.Errorf("query configs: %w", err)
	}
	defer rows.Close()

	configs := []StoredConfig{}
	for rows.Next() {
		var c StoredConfig
		if err := rows.Scan(&c.Qualifier, &c.Name, &c.Content, &c.Revision); err != nil {
			return nil, fmt.Errorf("scan config: %w", err)
		}
		configs = append(configs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate configs: %w", err)
	}
	return configs, nil
}

func checkLabels(labels ...string) error {
	for _, l := range labels {
		if !command.IsValidLabel(l) {
			return &LabelError{Label: l}
		}
	}
	return nil
}
