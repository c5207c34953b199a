package models

import (
	"time"
)

// CommunityType is the kind of a community as reported by the platform
type CommunityType int16

const (
	TypePublicPage CommunityType = iota
	TypeOpenGroup
	TypeClosedGroup
	TypePrivateGroup
)

// AgeLimit is the age restriction declared by a community
type AgeLimit int16

const (
	AgeLimitUnknown AgeLimit = -1
	AgeLimitNone    AgeLimit = 0
	AgeLimit16      AgeLimit = 16
	AgeLimit18      AgeLimit = 18
)

// Community represents a page or group tracked by its platform id
type Community struct {
	VKID        int64         `json:"vkid"`
	Deactivated bool          `json:"deactivated"`
	Type        CommunityType `json:"type"`
	Verified    *bool         `json:"verified"`
	AgeLimit    AgeLimit      `json:"age_limit"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Status      string        `json:"status"`
	Icon50URL   string        `json:"icon50url"`
	Icon100URL  string        `json:"icon100url"`
	// nil when the last lookup returned no data
	Followers     *int       `json:"followers"`
	CheckedAt     *time.Time `json:"checked_at"`
	WallCheckedAt *time.Time `json:"wall_checked_at"`
	ViewsPerPost  *float64   `json:"views_per_post"`
	LikesPerView  *float64   `json:"likes_per_view"`
}

// WallEligible reports whether the wall of the community can be ingested
func (c *Community) WallEligible() bool {
	if c.Deactivated || c.Followers == nil {
		return false
	}
	return c.Type == TypePublicPage || c.Type == TypeOpenGroup
}

// CommunityHistory is a point-in-time snapshot of the follower count
type CommunityHistory struct {
	ID          int64     `json:"id"`
	CommunityID int64     `json:"community_id"`
	CheckedAt   time.Time `json:"checked_at"`
	Followers   int       `json:"followers"`
}

// ContentBlock is a flattened text of a post or of one of its reposted entries.
// AuthorID is set only when it differs from the author of the top post.
type ContentBlock struct {
	AuthorID *int64 `json:"author_id,omitempty"`
	Text     string `json:"text"`
}

// Post represents a wall post of a community
type Post struct {
	CommunityID int64          `json:"community_id"`
	VKID        int64          `json:"vkid"`
	CheckedAt   time.Time      `json:"checked_at"`
	PublishedAt time.Time      `json:"published_at"`
	Content     []ContentBlock `json:"content"`
	Views       *int           `json:"views"`
	Likes       int            `json:"likes"`
	Shares      int            `json:"shares"`
	Comments    int            `json:"comments"`
	MarkedAsAds bool           `json:"marked_as_ads"`
	Links       int            `json:"links"`
}
