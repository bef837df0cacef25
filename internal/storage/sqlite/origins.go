package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/savecodenow/internal/savecode"
)

func originTable(kind savecode.OriginListKind) (string, error) {
	switch kind {
	case savecode.AuthorizedOrigins:
		return "save_authorized_origin", nil
	case savecode.UnauthorizedOrigins:
		return "save_unauthorized_origin", nil
	default:
		return "", fmt.Errorf("unknown origin list %q", kind)
	}
}

// ListOrigins returns the prefixes of one list, sorted.
func (s *RequestStore) ListOrigins(ctx context.Context, kind savecode.OriginListKind) ([]string, error) {
	table, err := originTable(kind)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT url FROM %s ORDER BY url`, table))
	if err != nil {
		return nil, fmt.Errorf("list %s origins: %w", kind, err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("scan %s origin: %w", kind, err)
		}
		out = append(out, url)
	}
	return out, rows.Err()
}

// AddOrigin adds a prefix to a list. Adding an existing prefix is a no-op.
func (s *RequestStore) AddOrigin(ctx context.Context, kind savecode.OriginListKind, prefix string) error {
	table, err := originTable(kind)
	if err != nil {
		return err
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return fmt.Errorf("empty origin prefix: %w", savecode.ErrInvalidOriginURL)
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`INSERT OR IGNORE INTO %s (url) VALUES (?)`, table), prefix); err != nil {
		return fmt.Errorf("add %s origin: %w", kind, err)
	}
	return nil
}

// RemoveOrigin removes a prefix from a list.
func (s *RequestStore) RemoveOrigin(ctx context.Context, kind savecode.OriginListKind, prefix string) error {
	table, err := originTable(kind)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE url = ?`, table), prefix)
	if err != nil {
		return fmt.Errorf("remove %s origin: %w", kind, err)
	}
	return requireAffected(res, fmt.Sprintf("%s origin %q", kind, prefix))
}
