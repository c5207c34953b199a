package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettboylen/vkcommunities/collector"
	"github.com/brettboylen/vkcommunities/db"
	"github.com/brettboylen/vkcommunities/models"
)

// fakeLoop returns err at once, or blocks until ctx is done when err is nil
type fakeLoop struct {
	name string
	err  error
}

func (l *fakeLoop) Run(ctx context.Context) error {
	if l.err != nil {
		return l.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func (l *fakeLoop) Status() collector.Status {
	return collector.Status{Loop: l.name}
}

func TestWaitForShutdownOnLoopFailure(t *testing.T) {
	log, hook := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	errSave := errors.New("database is locked")
	stopped := startLoops(ctx, []loop{
		&fakeLoop{name: "communities"},
		&fakeLoop{name: "walls", err: errSave},
	}, &wg, log)

	failed := waitForShutdown(make(chan os.Signal), stopped, cancel, &wg, log)

	assert.True(t, failed)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.Equal(t, "VK Communities stopped", hook.LastEntry().Message)
}

func TestWaitForShutdownOnSignal(t *testing.T) {
	log, _ := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	stopped := startLoops(ctx, []loop{
		&fakeLoop{name: "communities"},
		&fakeLoop{name: "walls"},
	}, &wg, log)

	signals := make(chan os.Signal, 1)
	signals <- syscall.SIGTERM

	failed := waitForShutdown(signals, stopped, cancel, &wg, log)

	assert.False(t, failed)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	// canceled loops are not failures
	assert.Empty(t, stopped)
}

func TestStartLoopsReportsStoppedLoop(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		message string
	}{
		{
			name:    "No communities",
			err:     collector.ErrNoCommunities,
			message: "No communities to update, seed the database first",
		},
		{
			name:    "Unknown error",
			err:     errors.New("disk is full"),
			message: "Loop stopped unexpectedly",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			log, hook := test.NewNullLogger()

			var wg sync.WaitGroup
			stopped := startLoops(context.Background(), []loop{&fakeLoop{name: "walls", err: tc.err}}, &wg, log)

			err := <-stopped
			wg.Wait()

			assert.ErrorIs(t, err, tc.err)
			require.NotNil(t, hook.LastEntry())
			assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
			assert.Equal(t, tc.message, hook.LastEntry().Message)
			assert.Equal(t, "walls", hook.LastEntry().Data["loop"])
		})
	}
}

func newCommunityServer(t *testing.T) *echo.Echo {
	t.Helper()
	ctx := context.Background()
	log, _ := test.NewNullLogger()

	database, err := db.NewDatabase(db.DriverSQLite, filepath.Join(t.TempDir(), "vk.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	_, err = database.AddCommunities(ctx, []int64{7}, now)
	require.NoError(t, err)

	c, err := database.GetCommunity(ctx, 7)
	require.NoError(t, err)
	followers := 100
	c.Followers = &followers
	c.CheckedAt = &now
	require.NoError(t, database.SaveCommunity(ctx, c, true))

	posts := []models.Post{{
		CommunityID: 7,
		VKID:        1,
		CheckedAt:   now,
		PublishedAt: now.Add(-time.Hour),
		Content:     []models.ContentBlock{{Text: "hello"}},
		Likes:       3,
	}}
	require.NoError(t, database.SaveWall(ctx, c, posts, now))

	e := echo.New()
	e.GET("/api/communities/:id", communityHandler(database, log))
	return e
}

func TestCommunityHandler(t *testing.T) {
	e := newCommunityServer(t)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/communities/7", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Community models.Community          `json:"community"`
		History   []models.CommunityHistory `json:"history"`
		Posts     []models.Post             `json:"posts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	assert.Equal(t, int64(7), body.Community.VKID)
	require.NotNil(t, body.Community.WallCheckedAt)
	require.Len(t, body.History, 1)
	assert.Equal(t, 100, body.History[0].Followers)
	require.Len(t, body.Posts, 1)
	assert.Equal(t, "hello", body.Posts[0].Content[0].Text)
	assert.Equal(t, 3, body.Posts[0].Likes)
}

func TestCommunityHandlerErrors(t *testing.T) {
	e := newCommunityServer(t)

	tests := []struct {
		name   string
		id     string
		status int
	}{
		{name: "Not a number", id: "abc", status: http.StatusBadRequest},
		{name: "Negative id", id: "-7", status: http.StatusBadRequest},
		{name: "Unknown community", id: "8", status: http.StatusNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/communities/"+tc.id, nil))
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}
