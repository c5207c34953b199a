package api

// GroupRecord is a raw community record returned by groups.getById.
// Pointer fields are optional in the payload.
type GroupRecord struct {
	ID           int64   `json:"id"`
	Deactivated  *string `json:"deactivated"`
	Type         *string `json:"type"`
	IsClosed     *int    `json:"is_closed"`
	Verified     *int    `json:"verified"`
	AgeLimits    *int    `json:"age_limits"`
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	Status       string  `json:"status"`
	Photo50      string  `json:"photo_50"`
	Photo100     string  `json:"photo_100"`
	MembersCount *int    `json:"members_count"`
}

// Counter is a {"count": N} object used by the wall payload
type Counter struct {
	Count *int `json:"count"`
}

// WallPost is a raw wall item returned by wall.get.
// CopyHistory holds the repost chain, each entry in the same shape.
type WallPost struct {
	ID          *int64     `json:"id"`
	FromID      int64      `json:"from_id"`
	OwnerID     int64      `json:"owner_id"`
	Date        *int64     `json:"date"`
	Text        *string    `json:"text"`
	Views       *Counter   `json:"views"`
	Likes       *Counter   `json:"likes"`
	Reposts     *Counter   `json:"reposts"`
	Comments    *Counter   `json:"comments"`
	MarkedAsAds *int       `json:"marked_as_ads"`
	CopyHistory []WallPost `json:"copy_history"`
}

// Author returns the author of the item, falling back to the wall owner
func (p *WallPost) Author() int64 {
	if p.FromID != 0 {
		return p.FromID
	}
	return p.OwnerID
}

// Wall is the result of a wall fetch. Inaccessible is set for closed or
// private communities and is distinct from an empty Items slice.
type Wall struct {
	Items        []WallPost
	Inaccessible bool
}
