package collector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brettboylen/vkcommunities/api"
	"github.com/brettboylen/vkcommunities/metrics"
	"github.com/brettboylen/vkcommunities/models"
	"github.com/brettboylen/vkcommunities/parser"
	"github.com/brettboylen/vkcommunities/utils"
)

const wallsLoop = "walls"

// WallFetcher fetches the latest posts of a community
type WallFetcher interface {
	FetchWall(ctx context.Context, communityID int64) (*api.Wall, error)
}

// WallStore is the storage used by WallUpdater
type WallStore interface {
	LoadWallCandidates(ctx context.Context, limit int) ([]models.Community, error)
	SaveWall(ctx context.Context, c *models.Community, posts []models.Post, now time.Time) error
}

// WallConfig tunes WallUpdater
type WallConfig struct {
	// UpdatePeriod is the time of one full pass over the eligible communities
	UpdatePeriod time.Duration
	// StatsPeriod is the max age of the queue before the average update
	// duration is re-estimated and the queue is rebuilt
	StatsPeriod time.Duration
	// DefaultUpdateDuration is the assumed duration of one wall update
	// until it has been measured
	DefaultUpdateDuration time.Duration
}

// WallUpdater ingests community walls and keeps their engagement stats
type WallUpdater struct {
	fetcher WallFetcher
	store   WallStore
	config  WallConfig
	log     *logrus.Logger
	metrics *metrics.Metrics

	queue       queue
	periodStart time.Time
	updated     int
	status      *statusTracker

	now   func() time.Time
	sleep sleepFunc
}

// NewWallUpdater creates a new wall loop
func NewWallUpdater(fetcher WallFetcher, store WallStore, config WallConfig, m *metrics.Metrics, log *logrus.Logger) *WallUpdater {
	if config.UpdatePeriod <= 0 {
		config.UpdatePeriod = 23 * time.Hour
	}
	if config.StatsPeriod <= 0 {
		config.StatsPeriod = 5 * time.Minute
	}
	if config.DefaultUpdateDuration <= 0 {
		config.DefaultUpdateDuration = 9 * time.Second
	}

	return &WallUpdater{
		fetcher: fetcher,
		store:   store,
		config:  config,
		log:     log,
		metrics: m,
		status:  newStatusTracker(wallsLoop),
		now:     time.Now,
		sleep:   utils.SleepContext,
	}
}

// Run drives the loop until ctx is done or an unrecoverable error occurs
func (u *WallUpdater) Run(ctx context.Context) error {
	return run(ctx, wallsLoop, u.status, u.log, u.now, u.sleep, u.step)
}

// Status returns a snapshot of the loop state
func (u *WallUpdater) Status() Status {
	return u.status.get()
}

func (u *WallUpdater) step(ctx context.Context) error {
	if u.queue.len() > 0 && u.now().Sub(u.periodStart) < u.config.StatsPeriod {
		return u.updateNext(ctx)
	}
	return u.load(ctx)
}

// load sizes the queue so that one pass fits into the update period at the
// measured pace and fills it in priority order
func (u *WallUpdater) load(ctx context.Context) error {
	now := u.now()

	duration := u.config.DefaultUpdateDuration
	if u.updated > 0 {
		if measured := now.Sub(u.periodStart) / time.Duration(u.updated); measured > 0 {
			duration = measured
		}
	}
	size := int(u.config.UpdatePeriod / duration)
	if size < 1 {
		size = 1
	}

	candidates, err := u.store.LoadWallCandidates(ctx, size)
	if err != nil {
		return fmt.Errorf("failed to load wall candidates: %w", err)
	}

	communities := make([]models.Community, 0, len(candidates))
	for _, c := range candidates {
		if !c.WallEligible() {
			u.log.WithField("community", c.VKID).Debug("Community is not eligible for wall update")
			continue
		}
		communities = append(communities, c)
	}
	sortByPriority(communities)

	u.queue.reset(communities)
	u.periodStart = now
	u.updated = 0
	u.status.startPeriod(now)
	u.status.setQueue(u.queue.len())
	u.metrics.QueueSize(wallsLoop, u.queue.len())

	u.log.WithFields(logrus.Fields{
		"loaded":          len(communities),
		"limit":           size,
		"update_duration": duration.String(),
	}).Info("Loaded communities for wall update")

	if len(communities) == 0 {
		u.log.Warn("No community is eligible for wall update")
		return u.sleep(ctx, u.config.StatsPeriod)
	}
	return nil
}

// sortByPriority orders communities for processing: never checked walls
// first, then the oldest checks, then the smallest audience
func sortByPriority(communities []models.Community) {
	sort.SliceStable(communities, func(i, j int) bool {
		a, b := &communities[i], &communities[j]
		if (a.WallCheckedAt == nil) != (b.WallCheckedAt == nil) {
			return a.WallCheckedAt == nil
		}
		if a.WallCheckedAt != nil && !a.WallCheckedAt.Equal(*b.WallCheckedAt) {
			return a.WallCheckedAt.Before(*b.WallCheckedAt)
		}
		return followersOf(a) < followersOf(b)
	})
}

func followersOf(c *models.Community) int {
	if c.Followers == nil {
		return 0
	}
	return *c.Followers
}

// updateNext ingests the wall of the next community. The community stays
// queued when the fetch fails, so a retry repeats it.
func (u *WallUpdater) updateNext(ctx context.Context) error {
	c := *u.queue.next()
	checkTime := u.now()

	wall, err := u.fetcher.FetchWall(ctx, c.VKID)
	if err != nil {
		return err
	}
	u.queue.pop()

	if c.WallCheckedAt != nil {
		if late := checkTime.Sub(c.WallCheckedAt.Add(u.config.UpdatePeriod)); late > 0 {
			u.log.WithFields(logrus.Fields{
				"community": c.VKID,
				"late_sec":  int64(late.Seconds()),
			}).Warn("Wall update is late")
			u.metrics.Late(wallsLoop, late.Seconds())
		}
	}

	var posts []models.Post
	result := "inaccessible"
	if wall.Inaccessible {
		u.log.WithField("community", c.VKID).Warn("Cannot get the wall of the community")
	} else {
		posts, err = u.parsePosts(c.VKID, wall.Items, checkTime)
		if err != nil {
			return err
		}
		result = "posts"
		if len(wall.Items) == 0 {
			result = "empty"
		}
	}

	if err := u.store.SaveWall(ctx, &c, posts, checkTime); err != nil {
		return fmt.Errorf("failed to save wall of community %d: %w", c.VKID, err)
	}

	u.updated++
	u.status.addProcessed(1, u.queue.len())
	u.metrics.WallUpdated(result, len(posts))
	u.metrics.QueueSize(wallsLoop, u.queue.len())

	u.log.WithFields(logrus.Fields{
		"community": c.VKID,
		"posts":     len(posts),
		"result":    result,
	}).Info("Updated wall")
	return nil
}

// parsePosts parses raw wall items, skipping the malformed ones
func (u *WallUpdater) parsePosts(communityID int64, items []api.WallPost, checkTime time.Time) ([]models.Post, error) {
	posts := make([]models.Post, 0, len(items))
	for _, item := range items {
		post, err := parser.ParsePost(communityID, item, checkTime)
		if err != nil {
			var parseErr *parser.ParseError
			if !errors.As(err, &parseErr) {
				return nil, err
			}
			fields := logrus.Fields{
				"community": communityID,
				"field":     parseErr.Field,
			}
			if item.ID != nil {
				fields["post"] = *item.ID
			}
			u.log.WithFields(fields).WithError(err).Error("Failed to parse post")
			u.metrics.ParseFailure("post")
			continue
		}
		posts = append(posts, post)
	}
	return posts, nil
}
