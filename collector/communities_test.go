package collector

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettboylen/vkcommunities/api"
	"github.com/brettboylen/vkcommunities/db"
	"github.com/brettboylen/vkcommunities/models"
)

type fakeCommunityAPI struct {
	records map[int64]api.GroupRecord
	errs    []error
	calls   [][]int64
}

func (f *fakeCommunityAPI) FetchCommunities(ctx context.Context, ids []int64) (map[int64]api.GroupRecord, error) {
	f.calls = append(f.calls, append([]int64(nil), ids...))
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}

	result := make(map[int64]api.GroupRecord)
	for _, id := range ids {
		if record, ok := f.records[id]; ok {
			result[id] = record
		}
	}
	return result, nil
}

type savedCommunity struct {
	community   models.Community
	withHistory bool
}

type fakeCommunityStore struct {
	neverChecked []models.Community
	checked      []models.Community
	saved        []savedCommunity
}

func (f *fakeCommunityStore) LoadNeverChecked(ctx context.Context, limit int) ([]models.Community, error) {
	return head(f.neverChecked, limit), nil
}

func (f *fakeCommunityStore) LoadLeastRecentlyChecked(ctx context.Context, limit int) ([]models.Community, error) {
	return head(f.checked, limit), nil
}

func (f *fakeCommunityStore) SaveCommunity(ctx context.Context, c *models.Community, withHistory bool) error {
	f.saved = append(f.saved, savedCommunity{community: *c, withHistory: withHistory})
	return nil
}

func head(communities []models.Community, n int) []models.Community {
	if n > len(communities) {
		n = len(communities)
	}
	return append([]models.Community(nil), communities[:n]...)
}

// fakeClock is a manual clock; sleeping advances it
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return ctx.Err()
}

func newTestCommunityUpdater(fetcher CommunityFetcher, store CommunityStore, config CommunityConfig, clock *fakeClock) (*CommunityUpdater, *test.Hook) {
	log, hook := test.NewNullLogger()
	u := NewCommunityUpdater(fetcher, store, config, nil, log)
	u.now = clock.Now
	u.sleep = clock.Sleep
	return u, hook
}

func intPtr(v int) *int {
	return &v
}

func strPtr(v string) *string {
	return &v
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func pageRecord(id int64, followers int) api.GroupRecord {
	return api.GroupRecord{
		ID:           id,
		Type:         strPtr("page"),
		IsClosed:     intPtr(0),
		Name:         "community",
		MembersCount: intPtr(followers),
	}
}

func TestCommunityUpdaterLoadOrder(t *testing.T) {
	ctx := context.Background()
	log, _ := test.NewNullLogger()

	database, err := db.NewDatabase(db.DriverSQLite, filepath.Join(t.TempDir(), "test.db"), log)
	require.NoError(t, err)
	defer database.Close()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	_, err = database.AddCommunities(ctx, []int64{1, 2, 3, 4}, base.Add(-24*time.Hour))
	require.NoError(t, err)

	checks := map[int64]time.Time{
		2: base,
		3: base.Add(2 * time.Hour),
		4: base.Add(time.Hour),
	}
	for id, checkedAt := range checks {
		c := models.Community{VKID: id, AgeLimit: models.AgeLimitUnknown, CheckedAt: timePtr(checkedAt)}
		require.NoError(t, database.SaveCommunity(ctx, &c, false))
	}

	clock := &fakeClock{now: base.Add(24 * time.Hour)}
	u, _ := newTestCommunityUpdater(&fakeCommunityAPI{}, database, CommunityConfig{BufferSize: 3}, clock)

	require.NoError(t, u.load(ctx))
	assert.Equal(t, []int64{1, 2, 4}, u.queue.ids())
	assert.Equal(t, 3, u.Status().QueueSize)
}

func TestCommunityUpdaterNoCommunities(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	u, _ := newTestCommunityUpdater(&fakeCommunityAPI{}, &fakeCommunityStore{}, CommunityConfig{}, clock)

	err := u.step(context.Background())
	assert.ErrorIs(t, err, ErrNoCommunities)
}

func TestCommunityUpdaterWaitsForCheckTime(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		checkedAt *time.Time
		sleeps    []time.Duration
		late      bool
	}{
		{
			name:      "never checked",
			checkedAt: nil,
			sleeps:    nil,
		},
		{
			name:      "due in 42 seconds",
			checkedAt: timePtr(now.Add(-12*time.Hour + 42*time.Second)),
			sleeps:    []time.Duration{42 * time.Second},
		},
		{
			name:      "past due",
			checkedAt: timePtr(now.Add(-13 * time.Hour)),
			sleeps:    nil,
			late:      true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clock := &fakeClock{now: now}
			store := &fakeCommunityStore{}
			if tc.checkedAt == nil {
				store.neverChecked = []models.Community{{VKID: 1}}
			} else {
				store.checked = []models.Community{{VKID: 1, CheckedAt: tc.checkedAt}}
			}
			u, hook := newTestCommunityUpdater(&fakeCommunityAPI{}, store, CommunityConfig{}, clock)

			require.NoError(t, u.load(context.Background()))
			require.NoError(t, u.waitForCheckTime(context.Background()))
			assert.Equal(t, tc.sleeps, clock.sleeps)

			warned := false
			for _, entry := range hook.AllEntries() {
				if entry.Level == logrus.WarnLevel && entry.Message == "Community update is late" {
					warned = true
				}
			}
			assert.Equal(t, tc.late, warned)
		})
	}
}

func TestCommunityUpdaterBatch(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}

	broken := pageRecord(2, 5)
	broken.Type = strPtr("event")

	fetcher := &fakeCommunityAPI{
		records: map[int64]api.GroupRecord{
			1: pageRecord(1, 100),
			2: broken,
			// 3 is unknown to the API
		},
	}
	store := &fakeCommunityStore{
		neverChecked: []models.Community{
			{VKID: 1},
			{VKID: 2},
			{VKID: 3, Followers: intPtr(7)},
		},
	}
	u, hook := newTestCommunityUpdater(fetcher, store, CommunityConfig{}, clock)

	require.NoError(t, u.step(context.Background()))
	require.NoError(t, u.step(context.Background()))

	require.Len(t, fetcher.calls, 1)
	assert.Equal(t, []int64{1, 2, 3}, fetcher.calls[0])

	require.Len(t, store.saved, 2)

	assert.Equal(t, int64(1), store.saved[0].community.VKID)
	assert.True(t, store.saved[0].withHistory)
	assert.Equal(t, intPtr(100), store.saved[0].community.Followers)
	assert.Equal(t, models.TypePublicPage, store.saved[0].community.Type)
	assert.Equal(t, timePtr(now), store.saved[0].community.CheckedAt)

	assert.Equal(t, int64(3), store.saved[1].community.VKID)
	assert.False(t, store.saved[1].withHistory)
	assert.Nil(t, store.saved[1].community.Followers)
	assert.Equal(t, timePtr(now), store.saved[1].community.CheckedAt)

	errorsLogged := 0
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.ErrorLevel {
			errorsLogged++
			assert.Equal(t, int64(2), entry.Data["community"])
		}
	}
	assert.Equal(t, 1, errorsLogged)

	assert.Equal(t, 0, u.queue.len())
	assert.Equal(t, 3, u.Status().Processed)
}

func TestCommunityUpdaterRetriesSameBatch(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	fetcher := &fakeCommunityAPI{
		records: map[int64]api.GroupRecord{1: pageRecord(1, 10), 2: pageRecord(2, 20)},
		errs:    []error{api.ErrTryAgain},
	}
	store := &fakeCommunityStore{neverChecked: []models.Community{{VKID: 1}, {VKID: 2}}}
	u, _ := newTestCommunityUpdater(fetcher, store, CommunityConfig{BatchSize: 2}, clock)

	require.NoError(t, u.load(context.Background()))

	err := u.updateBatch(context.Background())
	assert.ErrorIs(t, err, api.ErrTryAgain)
	assert.Equal(t, 2, u.queue.len())
	assert.Empty(t, store.saved)

	require.NoError(t, u.updateBatch(context.Background()))
	assert.Equal(t, 0, u.queue.len())
	assert.Len(t, store.saved, 2)
	assert.Equal(t, fetcher.calls[0], fetcher.calls[1])
}

func TestCommunityUpdaterBatchLimit(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	store := &fakeCommunityStore{}
	for id := int64(1); id <= 5; id++ {
		store.neverChecked = append(store.neverChecked, models.Community{VKID: id})
	}
	fetcher := &fakeCommunityAPI{}
	u, _ := newTestCommunityUpdater(fetcher, store, CommunityConfig{BatchSize: 2}, clock)

	require.NoError(t, u.load(context.Background()))
	for u.queue.len() > 0 {
		require.NoError(t, u.updateBatch(context.Background()))
	}

	assert.Equal(t, [][]int64{{1, 2}, {3, 4}, {5}}, fetcher.calls)
	assert.Len(t, store.saved, 5)
}

func TestNewCommunityUpdaterDefaults(t *testing.T) {
	log, _ := test.NewNullLogger()
	u := NewCommunityUpdater(&fakeCommunityAPI{}, &fakeCommunityStore{}, CommunityConfig{BatchSize: 1000}, nil, log)

	assert.Equal(t, 12*time.Hour, u.config.UpdatePeriod)
	assert.Equal(t, api.CommunitiesPerRequest, u.config.BatchSize)
	assert.Equal(t, 20*api.CommunitiesPerRequest, u.config.BufferSize)
}
