package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brettboylen/vkcommunities/api"
	"github.com/brettboylen/vkcommunities/metrics"
	"github.com/brettboylen/vkcommunities/models"
	"github.com/brettboylen/vkcommunities/parser"
	"github.com/brettboylen/vkcommunities/utils"
)

const communitiesLoop = "communities"

// CommunityFetcher looks up community records by id
type CommunityFetcher interface {
	FetchCommunities(ctx context.Context, ids []int64) (map[int64]api.GroupRecord, error)
}

// CommunityStore is the storage used by CommunityUpdater
type CommunityStore interface {
	LoadNeverChecked(ctx context.Context, limit int) ([]models.Community, error)
	LoadLeastRecentlyChecked(ctx context.Context, limit int) ([]models.Community, error)
	SaveCommunity(ctx context.Context, c *models.Community, withHistory bool) error
}

// CommunityConfig tunes CommunityUpdater
type CommunityConfig struct {
	// UpdatePeriod is the min interval between two checks of a community
	UpdatePeriod time.Duration
	// BufferSize is the number of communities loaded into the queue at once
	BufferSize int
	// BatchSize is the number of communities looked up per API call
	BatchSize int
}

// CommunityUpdater refreshes community metadata and records follower history
type CommunityUpdater struct {
	fetcher CommunityFetcher
	store   CommunityStore
	config  CommunityConfig
	log     *logrus.Logger
	metrics *metrics.Metrics

	queue  queue
	status *statusTracker

	now   func() time.Time
	sleep sleepFunc
}

// NewCommunityUpdater creates a new metadata loop
func NewCommunityUpdater(fetcher CommunityFetcher, store CommunityStore, config CommunityConfig, m *metrics.Metrics, log *logrus.Logger) *CommunityUpdater {
	if config.UpdatePeriod <= 0 {
		config.UpdatePeriod = 12 * time.Hour
	}
	if config.BatchSize <= 0 || config.BatchSize > api.CommunitiesPerRequest {
		config.BatchSize = api.CommunitiesPerRequest
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 20 * config.BatchSize
	}

	return &CommunityUpdater{
		fetcher: fetcher,
		store:   store,
		config:  config,
		log:     log,
		metrics: m,
		status:  newStatusTracker(communitiesLoop),
		now:     time.Now,
		sleep:   utils.SleepContext,
	}
}

// Run drives the loop until ctx is done or an unrecoverable error occurs
func (u *CommunityUpdater) Run(ctx context.Context) error {
	return run(ctx, communitiesLoop, u.status, u.log, u.now, u.sleep, u.step)
}

// Status returns a snapshot of the loop state
func (u *CommunityUpdater) Status() Status {
	return u.status.get()
}

func (u *CommunityUpdater) step(ctx context.Context) error {
	if u.queue.len() == 0 {
		return u.load(ctx)
	}

	if err := u.waitForCheckTime(ctx); err != nil {
		return err
	}
	return u.updateBatch(ctx)
}

// load fills the queue with never checked communities first, then with the
// least recently checked ones
func (u *CommunityUpdater) load(ctx context.Context) error {
	communities, err := u.store.LoadNeverChecked(ctx, u.config.BufferSize)
	if err != nil {
		return fmt.Errorf("failed to load new communities: %w", err)
	}
	newCount := len(communities)

	if rest := u.config.BufferSize - newCount; rest > 0 {
		checked, err := u.store.LoadLeastRecentlyChecked(ctx, rest)
		if err != nil {
			return fmt.Errorf("failed to load communities: %w", err)
		}
		communities = append(communities, checked...)
	}

	if len(communities) == 0 {
		return ErrNoCommunities
	}

	u.queue.reset(communities)
	u.status.startPeriod(u.now())
	u.status.setQueue(u.queue.len())
	u.metrics.QueueSize(communitiesLoop, u.queue.len())

	u.log.WithFields(logrus.Fields{
		"loaded":        len(communities),
		"never_checked": newCount,
	}).Info("Loaded communities for update")
	return nil
}

// waitForCheckTime sleeps until the next community is due for a check
func (u *CommunityUpdater) waitForCheckTime(ctx context.Context) error {
	next := u.queue.next()
	if next == nil || next.CheckedAt == nil {
		return nil
	}

	due := next.CheckedAt.Add(u.config.UpdatePeriod)
	now := u.now()
	if wait := due.Sub(now); wait > 0 {
		u.log.WithFields(logrus.Fields{
			"community": next.VKID,
			"wait":      wait.String(),
		}).Debug("Waiting for the next community update")
		return u.sleep(ctx, wait)
	}

	if late := now.Sub(due); late > 0 {
		u.log.WithFields(logrus.Fields{
			"community": next.VKID,
			"late_sec":  int64(late.Seconds()),
		}).Warn("Community update is late")
		u.metrics.Late(communitiesLoop, late.Seconds())
	}
	return nil
}

// updateBatch refreshes one batch from the tail of the queue. The batch is
// removed only when it was fetched, so a retry repeats the same batch.
func (u *CommunityUpdater) updateBatch(ctx context.Context) error {
	batch := u.queue.peek(u.config.BatchSize)
	ids := make([]int64, len(batch))
	for i := range batch {
		ids[i] = batch[i].VKID
	}

	records, err := u.fetcher.FetchCommunities(ctx, ids)
	if err != nil {
		return err
	}
	checkTime := u.now()

	saved, noData := 0, 0
	for i := range batch {
		c := &batch[i]

		record, ok := records[c.VKID]
		if !ok {
			parser.ApplyNoData(c, checkTime)
			noData++
		} else if err := parser.ApplyCommunity(c, record, checkTime); err != nil {
			var parseErr *parser.ParseError
			if !errors.As(err, &parseErr) {
				return err
			}
			u.log.WithFields(logrus.Fields{
				"community": c.VKID,
				"field":     parseErr.Field,
			}).WithError(err).Error("Failed to parse community")
			u.metrics.ParseFailure("community")
			continue
		}

		withHistory := c.Followers != nil
		if err := u.store.SaveCommunity(ctx, c, withHistory); err != nil {
			return fmt.Errorf("failed to save community %d: %w", c.VKID, err)
		}

		result := "ok"
		if !withHistory {
			result = "no_data"
		}
		u.metrics.CommunityUpdated(result, withHistory)
		saved++
	}

	u.queue.drop(len(batch))
	u.status.addProcessed(len(batch), u.queue.len())
	u.metrics.QueueSize(communitiesLoop, u.queue.len())

	u.log.WithFields(logrus.Fields{
		"batch":   len(batch),
		"saved":   saved,
		"no_data": noData,
		"queue":   u.queue.len(),
	}).Debug("Updated communities")
	return nil
}
