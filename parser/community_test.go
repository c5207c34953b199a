package parser

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettboylen/vkcommunities/api"
	"github.com/brettboylen/vkcommunities/models"
)

func intPtr(v int) *int {
	return &v
}

func strPtr(v string) *string {
	return &v
}

func boolPtr(v bool) *bool {
	return &v
}

func TestApplyCommunityType(t *testing.T) {
	tests := []struct {
		name     string
		ctype    *string
		isClosed *int
		expected models.CommunityType
		field    string
	}{
		{name: "public page", ctype: strPtr("page"), expected: models.TypePublicPage},
		{name: "open group", ctype: strPtr("group"), isClosed: intPtr(0), expected: models.TypeOpenGroup},
		{name: "closed group", ctype: strPtr("group"), isClosed: intPtr(1), expected: models.TypeClosedGroup},
		{name: "private group", ctype: strPtr("group"), isClosed: intPtr(2), expected: models.TypePrivateGroup},
		{name: "event", ctype: strPtr("event"), isClosed: intPtr(0), field: "type"},
		{name: "missing type", ctype: nil, field: "type"},
		{name: "group without is_closed", ctype: strPtr("group"), field: "is_closed"},
		{name: "unknown is_closed", ctype: strPtr("group"), isClosed: intPtr(5), field: "is_closed"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := models.Community{VKID: 1, Name: "before"}
			record := api.GroupRecord{ID: 1, Type: tc.ctype, IsClosed: tc.isClosed, Name: "after"}

			err := ApplyCommunity(&c, record, time.Now())
			if tc.field == "" {
				require.NoError(t, err)
				assert.Equal(t, tc.expected, c.Type)
				return
			}

			var parseErr *ParseError
			require.True(t, errors.As(err, &parseErr))
			assert.Equal(t, tc.field, parseErr.Field)
			// a failed mapping leaves the community untouched
			assert.Equal(t, "before", c.Name)
			assert.Nil(t, c.CheckedAt)
		})
	}
}

func TestApplyCommunityVerified(t *testing.T) {
	tests := []struct {
		name     string
		verified *int
		expected *bool
		fails    bool
	}{
		{name: "absent", verified: nil, expected: nil},
		{name: "no", verified: intPtr(0), expected: boolPtr(false)},
		{name: "yes", verified: intPtr(1), expected: boolPtr(true)},
		{name: "unexpected", verified: intPtr(3), fails: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var c models.Community
			err := ApplyCommunity(&c, api.GroupRecord{Type: strPtr("page"), Verified: tc.verified}, time.Now())
			if tc.fails {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, c.Verified)
		})
	}
}

func TestApplyCommunityAgeLimit(t *testing.T) {
	tests := []struct {
		name      string
		ageLimits *int
		expected  models.AgeLimit
	}{
		{name: "absent", ageLimits: nil, expected: models.AgeLimitUnknown},
		{name: "none", ageLimits: intPtr(1), expected: models.AgeLimitNone},
		{name: "16+", ageLimits: intPtr(2), expected: models.AgeLimit16},
		{name: "18+", ageLimits: intPtr(3), expected: models.AgeLimit18},
		{name: "unknown value", ageLimits: intPtr(9), expected: models.AgeLimitUnknown},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var c models.Community
			err := ApplyCommunity(&c, api.GroupRecord{Type: strPtr("page"), AgeLimits: tc.ageLimits}, time.Now())
			require.NoError(t, err)
			assert.Equal(t, tc.expected, c.AgeLimit)
		})
	}
}

func TestApplyCommunityFields(t *testing.T) {
	checkedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	record := api.GroupRecord{
		ID:           42,
		Deactivated:  strPtr("banned"),
		Type:         strPtr("group"),
		IsClosed:     intPtr(0),
		Name:         "Gophers",
		Description:  "all about Go",
		Status:       "hello",
		Photo50:      "https://example.com/50.png",
		Photo100:     "https://example.com/100.png",
		MembersCount: intPtr(1234),
	}

	c := models.Community{VKID: 42}
	require.NoError(t, ApplyCommunity(&c, record, checkedAt))

	assert.True(t, c.Deactivated)
	assert.Equal(t, models.TypeOpenGroup, c.Type)
	assert.Equal(t, "Gophers", c.Name)
	assert.Equal(t, "all about Go", c.Description)
	assert.Equal(t, "hello", c.Status)
	assert.Equal(t, "https://example.com/50.png", c.Icon50URL)
	assert.Equal(t, "https://example.com/100.png", c.Icon100URL)
	assert.Equal(t, intPtr(1234), c.Followers)
	require.NotNil(t, c.CheckedAt)
	assert.Equal(t, checkedAt, *c.CheckedAt)
	assert.False(t, c.WallEligible())
}

func TestApplyNoData(t *testing.T) {
	checkedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := models.Community{VKID: 1, Name: "kept", Followers: intPtr(10)}

	ApplyNoData(&c, checkedAt)

	assert.Nil(t, c.Followers)
	assert.Equal(t, "kept", c.Name)
	assert.Equal(t, checkedAt, *c.CheckedAt)
}
