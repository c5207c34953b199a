package parser

import (
	"time"

	"github.com/brettboylen/vkcommunities/api"
	"github.com/brettboylen/vkcommunities/models"
)

// ParsePost converts a raw wall item into a Post checked at checkedAt
func ParsePost(communityID int64, raw api.WallPost, checkedAt time.Time) (models.Post, error) {
	if raw.ID == nil {
		return models.Post{}, missing("id")
	}
	if raw.Date == nil {
		return models.Post{}, missing("date")
	}

	content, err := ParseContent(raw)
	if err != nil {
		return models.Post{}, err
	}

	likes, err := count("likes", raw.Likes)
	if err != nil {
		return models.Post{}, err
	}
	shares, err := count("reposts", raw.Reposts)
	if err != nil {
		return models.Post{}, err
	}
	comments, err := count("comments", raw.Comments)
	if err != nil {
		return models.Post{}, err
	}
	if raw.MarkedAsAds == nil {
		return models.Post{}, missing("marked_as_ads")
	}

	var views *int
	if raw.Views != nil {
		views = raw.Views.Count
	}

	return models.Post{
		CommunityID: communityID,
		VKID:        *raw.ID,
		CheckedAt:   checkedAt,
		PublishedAt: time.Unix(*raw.Date, 0).UTC(),
		Content:     content,
		Views:       views,
		Likes:       likes,
		Shares:      shares,
		Comments:    comments,
		MarkedAsAds: *raw.MarkedAsAds == 1,
		Links:       len(UniqueLinks(content)),
	}, nil
}

// ParseContent flattens the post text and its repost chain, in order.
// An entry keeps its author id only when it differs from the top post author.
func ParseContent(raw api.WallPost) ([]models.ContentBlock, error) {
	if raw.Text == nil {
		return nil, missing("text")
	}

	author := raw.Author()
	content := make([]models.ContentBlock, 0, 1+len(raw.CopyHistory))
	content = append(content, models.ContentBlock{Text: *raw.Text})

	for i := range raw.CopyHistory {
		entry := &raw.CopyHistory[i]
		if entry.Text == nil {
			return nil, missing("copy_history.text")
		}

		block := models.ContentBlock{Text: *entry.Text}
		if entryAuthor := entry.Author(); entryAuthor != author {
			block.AuthorID = &entryAuthor
		}
		content = append(content, block)
	}

	return content, nil
}

func count(field string, counter *api.Counter) (int, error) {
	if counter == nil || counter.Count == nil {
		return 0, missing(field + ".count")
	}
	return *counter.Count, nil
}
