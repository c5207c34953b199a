package db

import (
	"context"
	"fmt"
)

// EnabledTokens returns the API tokens of all enabled accounts
func (d *Database) EnabledTokens(ctx context.Context) ([]string, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	query := `
	SELECT api_token
	FROM accounts
	WHERE enabled = ? AND api_token IS NOT NULL AND api_token <> ''
	ORDER BY id
	`

	rows, err := d.db.QueryContext(ctx, d.rebind(query), true)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	tokens := make([]string, 0)
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		tokens = append(tokens, token)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return tokens, nil
}
