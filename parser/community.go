package parser

import (
	"time"

	"github.com/brettboylen/vkcommunities/api"
	"github.com/brettboylen/vkcommunities/models"
)

// ApplyCommunity maps a raw lookup record onto c and stamps checkedAt.
// On error c is left untouched.
func ApplyCommunity(c *models.Community, record api.GroupRecord, checkedAt time.Time) error {
	ctype, err := parseType(record)
	if err != nil {
		return err
	}
	verified, err := parseVerified(record)
	if err != nil {
		return err
	}
	ageLimit := parseAgeLimit(record)

	c.Deactivated = record.Deactivated != nil
	c.Type = ctype
	c.Verified = verified
	c.AgeLimit = ageLimit
	c.Name = record.Name
	c.Description = record.Description
	c.Status = record.Status
	c.Icon50URL = record.Photo50
	c.Icon100URL = record.Photo100
	c.Followers = record.MembersCount
	c.CheckedAt = &checkedAt
	return nil
}

// ApplyNoData marks c as checked without data: the community is deleted or
// inaccessible, which clears the follower count
func ApplyNoData(c *models.Community, checkedAt time.Time) {
	c.Followers = nil
	c.CheckedAt = &checkedAt
}

func parseType(record api.GroupRecord) (models.CommunityType, error) {
	if record.Type == nil {
		return 0, missing("type")
	}

	switch *record.Type {
	case "page":
		return models.TypePublicPage, nil
	case "group":
	default:
		return 0, unexpected("type", *record.Type)
	}

	if record.IsClosed == nil {
		return 0, missing("is_closed")
	}
	switch *record.IsClosed {
	case 0:
		return models.TypeOpenGroup, nil
	case 1:
		return models.TypeClosedGroup, nil
	case 2:
		return models.TypePrivateGroup, nil
	}
	return 0, unexpected("is_closed", *record.IsClosed)
}

func parseVerified(record api.GroupRecord) (*bool, error) {
	if record.Verified == nil {
		return nil, nil
	}

	var verified bool
	switch *record.Verified {
	case 0:
		verified = false
	case 1:
		verified = true
	default:
		return nil, unexpected("verified", *record.Verified)
	}
	return &verified, nil
}

// parseAgeLimit never fails: absent and unknown values map to AgeLimitUnknown
func parseAgeLimit(record api.GroupRecord) models.AgeLimit {
	if record.AgeLimits == nil {
		return models.AgeLimitUnknown
	}

	switch *record.AgeLimits {
	case 1:
		return models.AgeLimitNone
	case 2:
		return models.AgeLimit16
	case 3:
		return models.AgeLimit18
	}
	return models.AgeLimitUnknown
}
