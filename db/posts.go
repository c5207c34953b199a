package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brettboylen/vkcommunities/models"
	"github.com/brettboylen/vkcommunities/stats"
)

// SaveWall upserts the posts of a wall, recomputes the engagement stats of
// the community over its stored posts and stamps wall_checked_at with now,
// all in one transaction. On success c carries the new values.
func (d *Database) SaveWall(ctx context.Context, c *models.Community, posts []models.Post, now time.Time) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	upsert := d.rebind(`
	INSERT INTO posts (
		community_id, vkid, checked_at, published_at, content, views,
		likes, shares, comments, marked_as_ads, links
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (community_id, vkid) DO UPDATE SET
		checked_at = excluded.checked_at,
		published_at = excluded.published_at,
		content = excluded.content,
		views = excluded.views,
		likes = excluded.likes,
		shares = excluded.shares,
		comments = excluded.comments,
		marked_as_ads = excluded.marked_as_ads,
		links = excluded.links
	`)

	var viewsPerPost, likesPerView *float64
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		for i := range posts {
			post := &posts[i]
			content, err := json.Marshal(post.Content)
			if err != nil {
				return fmt.Errorf("failed to encode content of post %d: %w", post.VKID, err)
			}

			_, err = tx.ExecContext(ctx, upsert,
				c.VKID, post.VKID, post.CheckedAt.UTC(), post.PublishedAt.UTC(), string(content), post.Views,
				post.Likes, post.Shares, post.Comments, post.MarkedAsAds, post.Links,
			)
			if err != nil {
				return fmt.Errorf("failed to save post %d of community %d: %w", post.VKID, c.VKID, err)
			}
		}

		samples, err := loadSamples(ctx, tx, d.rebind, c.VKID, stats.WindowStart(now))
		if err != nil {
			return err
		}
		viewsPerPost, likesPerView = stats.Engagement(samples, now)

		res, err := tx.ExecContext(ctx, d.rebind(`
		UPDATE communities SET wall_checked_at = ?, views_per_post = ?, likes_per_view = ?
		WHERE vkid = ?
		`), now.UTC(), viewsPerPost, likesPerView, c.VKID)
		if err != nil {
			return fmt.Errorf("failed to update wall stats of community %d: %w", c.VKID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("failed to update wall stats of community %d: %w", c.VKID, sql.ErrNoRows)
		}
		return nil
	})
	if err != nil {
		return err
	}

	checkedAt := now.UTC()
	c.WallCheckedAt = &checkedAt
	c.ViewsPerPost = viewsPerPost
	c.LikesPerView = likesPerView

	d.log.WithFields(logrus.Fields{
		"community": c.VKID,
		"posts":     len(posts),
		"has_stats": viewsPerPost != nil,
	}).Debug("Saved wall")
	return nil
}

func loadSamples(ctx context.Context, tx *sql.Tx, rebind func(string) string, communityID int64, since time.Time) ([]stats.Sample, error) {
	rows, err := tx.QueryContext(ctx, rebind(`
	SELECT published_at, checked_at, views, likes
	FROM posts
	WHERE community_id = ? AND published_at >= ?
	`), communityID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query posts of community %d: %w", communityID, err)
	}
	defer rows.Close()

	samples := make([]stats.Sample, 0)
	for rows.Next() {
		var s stats.Sample
		var views sql.NullInt64
		if err := rows.Scan(&s.PublishedAt, &s.CheckedAt, &views, &s.Likes); err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		if views.Valid {
			n := int(views.Int64)
			s.Views = &n
		}
		samples = append(samples, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return samples, nil
}

// GetPostsByCommunity returns the stored posts of a community, newest first
func (d *Database) GetPostsByCommunity(ctx context.Context, communityID int64) ([]models.Post, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	query := `
	SELECT community_id, vkid, checked_at, published_at, content, views,
		likes, shares, comments, marked_as_ads, links
	FROM posts
	WHERE community_id = ?
	ORDER BY published_at DESC, vkid DESC
	`

	rows, err := d.db.QueryContext(ctx, d.rebind(query), communityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query posts for community %d: %w", communityID, err)
	}
	defer rows.Close()

	posts := make([]models.Post, 0)
	for rows.Next() {
		var post models.Post
		var content string
		var views sql.NullInt64

		err := rows.Scan(
			&post.CommunityID, &post.VKID, &post.CheckedAt, &post.PublishedAt, &content, &views,
			&post.Likes, &post.Shares, &post.Comments, &post.MarkedAsAds, &post.Links,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}

		if err := json.Unmarshal([]byte(content), &post.Content); err != nil {
			return nil, fmt.Errorf("failed to decode content of post %d: %w", post.VKID, err)
		}
		if views.Valid {
			n := int(views.Int64)
			post.Views = &n
		}
		post.CheckedAt = post.CheckedAt.UTC()
		post.PublishedAt = post.PublishedAt.UTC()
		posts = append(posts, post)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return posts, nil
}
