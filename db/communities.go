package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brettboylen/vkcommunities/models"
)

const communityColumns = `vkid, deactivated, type, verified, age_limit, name, description,
	followers, status, icon50url, icon100url, checked_at, wall_checked_at,
	views_per_post, likes_per_view`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommunity(row rowScanner) (models.Community, error) {
	var c models.Community
	var ctype, ageLimit int16
	var verified sql.NullBool
	var followers sql.NullInt64
	var checkedAt, wallCheckedAt sql.NullTime
	var viewsPerPost, likesPerView sql.NullFloat64

	err := row.Scan(
		&c.VKID, &c.Deactivated, &ctype, &verified, &ageLimit, &c.Name, &c.Description,
		&followers, &c.Status, &c.Icon50URL, &c.Icon100URL, &checkedAt, &wallCheckedAt,
		&viewsPerPost, &likesPerView,
	)
	if err != nil {
		return c, err
	}

	c.Type = models.CommunityType(ctype)
	c.AgeLimit = models.AgeLimit(ageLimit)
	if verified.Valid {
		c.Verified = &verified.Bool
	}
	if followers.Valid {
		n := int(followers.Int64)
		c.Followers = &n
	}
	c.CheckedAt = fromNullTime(checkedAt)
	c.WallCheckedAt = fromNullTime(wallCheckedAt)
	if viewsPerPost.Valid {
		c.ViewsPerPost = &viewsPerPost.Float64
	}
	if likesPerView.Valid {
		c.LikesPerView = &likesPerView.Float64
	}
	return c, nil
}

func (d *Database) queryCommunities(ctx context.Context, query string, args ...any) ([]models.Community, error) {
	rows, err := d.db.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query communities: %w", err)
	}
	defer rows.Close()

	communities := make([]models.Community, 0)
	for rows.Next() {
		c, err := scanCommunity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan community: %w", err)
		}
		communities = append(communities, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return communities, nil
}

// LoadNeverChecked returns up to limit communities without a metadata check,
// in insertion order
func (d *Database) LoadNeverChecked(ctx context.Context, limit int) ([]models.Community, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	query := `
	SELECT ` + communityColumns + `
	FROM communities
	WHERE checked_at IS NULL
	ORDER BY created_at, vkid
	LIMIT ?
	`
	return d.queryCommunities(ctx, query, limit)
}

// LoadLeastRecentlyChecked returns up to limit checked communities, oldest check first
func (d *Database) LoadLeastRecentlyChecked(ctx context.Context, limit int) ([]models.Community, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	query := `
	SELECT ` + communityColumns + `
	FROM communities
	WHERE checked_at IS NOT NULL
	ORDER BY checked_at, vkid
	LIMIT ?
	`
	return d.queryCommunities(ctx, query, limit)
}

// LoadWallCandidates returns up to limit communities eligible for wall
// ingestion, largest audience first
func (d *Database) LoadWallCandidates(ctx context.Context, limit int) ([]models.Community, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	query := `
	SELECT ` + communityColumns + `
	FROM communities
	WHERE deactivated = ? AND type IN (?, ?) AND followers IS NOT NULL
	ORDER BY followers DESC, vkid
	LIMIT ?
	`
	return d.queryCommunities(ctx, query, false, models.TypePublicPage, models.TypeOpenGroup, limit)
}

// GetCommunity returns a single community by its platform id
func (d *Database) GetCommunity(ctx context.Context, vkid int64) (*models.Community, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	query := `SELECT ` + communityColumns + ` FROM communities WHERE vkid = ?`
	c, err := scanCommunity(d.db.QueryRowContext(ctx, d.rebind(query), vkid))
	if err != nil {
		return nil, fmt.Errorf("failed to get community %d: %w", vkid, err)
	}
	return &c, nil
}

// CountCommunities returns the total number of tracked communities
func (d *Database) CountCommunities(ctx context.Context) (int, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	var count int
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM communities").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count communities: %w", err)
	}

	return count, nil
}

// AddCommunities registers new community ids; known ids are ignored.
// Returns the number of ids actually added.
func (d *Database) AddCommunities(ctx context.Context, ids []int64, createdAt time.Time) (int, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	query := d.rebind(`
	INSERT INTO communities (vkid, created_at) VALUES (?, ?)
	ON CONFLICT (vkid) DO NOTHING
	`)

	added := 0
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			res, err := tx.ExecContext(ctx, query, id, createdAt.UTC())
			if err != nil {
				return fmt.Errorf("failed to add community %d: %w", id, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			added += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	d.log.WithFields(logrus.Fields{
		"requested": len(ids),
		"added":     added,
	}).Info("Added communities")
	return added, nil
}

// SaveCommunity writes the metadata columns of c. With withHistory a
// follower snapshot is appended in the same transaction.
func (d *Database) SaveCommunity(ctx context.Context, c *models.Community, withHistory bool) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if withHistory && (c.Followers == nil || c.CheckedAt == nil) {
		return fmt.Errorf("community %d: history requires followers and checked_at", c.VKID)
	}

	return d.withTx(ctx, func(tx *sql.Tx) error {
		query := `
		UPDATE communities SET
			deactivated = ?, type = ?, verified = ?, age_limit = ?, name = ?,
			description = ?, followers = ?, status = ?, icon50url = ?, icon100url = ?,
			checked_at = ?
		WHERE vkid = ?
		`
		res, err := tx.ExecContext(ctx, d.rebind(query),
			c.Deactivated, c.Type, c.Verified, c.AgeLimit, c.Name,
			c.Description, c.Followers, c.Status, c.Icon50URL, c.Icon100URL,
			toNullTime(c.CheckedAt), c.VKID,
		)
		if err != nil {
			return fmt.Errorf("failed to save community %d: %w", c.VKID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("failed to save community %d: %w", c.VKID, sql.ErrNoRows)
		}

		if !withHistory {
			return nil
		}

		_, err = tx.ExecContext(ctx, d.rebind(`
		INSERT INTO community_history (community_id, checked_at, followers) VALUES (?, ?, ?)
		`), c.VKID, c.CheckedAt.UTC(), *c.Followers)
		if err != nil {
			return fmt.Errorf("failed to save history of community %d: %w", c.VKID, err)
		}
		return nil
	})
}

// History returns the follower snapshots of a community, oldest first
func (d *Database) History(ctx context.Context, communityID int64) ([]models.CommunityHistory, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	query := `
	SELECT id, community_id, checked_at, followers
	FROM community_history
	WHERE community_id = ?
	ORDER BY checked_at, id
	`

	rows, err := d.db.QueryContext(ctx, d.rebind(query), communityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history of community %d: %w", communityID, err)
	}
	defer rows.Close()

	history := make([]models.CommunityHistory, 0)
	for rows.Next() {
		var h models.CommunityHistory
		if err := rows.Scan(&h.ID, &h.CommunityID, &h.CheckedAt, &h.Followers); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		h.CheckedAt = h.CheckedAt.UTC()
		history = append(history, h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return history, nil
}

// timestamps are stored in UTC so that sqlite text comparison keeps their order
func toNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func fromNullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}
