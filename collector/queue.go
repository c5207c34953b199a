// Package collector runs the two ingestion loops: community metadata
// refresh and wall ingestion.
package collector

import (
	"github.com/brettboylen/vkcommunities/models"
)

// queue is a stack of communities: the last element is processed next
type queue struct {
	items []models.Community
}

// reset replaces the content with communities given in processing order
func (q *queue) reset(inOrder []models.Community) {
	q.items = make([]models.Community, len(inOrder))
	for i, c := range inOrder {
		q.items[len(inOrder)-1-i] = c
	}
}

func (q *queue) len() int {
	return len(q.items)
}

// next returns the community processed next, or nil when empty
func (q *queue) next() *models.Community {
	if len(q.items) == 0 {
		return nil
	}
	return &q.items[len(q.items)-1]
}

// peek returns up to n communities from the tail, in processing order
func (q *queue) peek(n int) []models.Community {
	if n > len(q.items) {
		n = len(q.items)
	}
	batch := make([]models.Community, n)
	for i := 0; i < n; i++ {
		batch[i] = q.items[len(q.items)-1-i]
	}
	return batch
}

// drop removes up to n communities from the tail
func (q *queue) drop(n int) {
	if n > len(q.items) {
		n = len(q.items)
	}
	q.items = q.items[:len(q.items)-n]
}

func (q *queue) pop() (models.Community, bool) {
	if len(q.items) == 0 {
		return models.Community{}, false
	}
	c := q.items[len(q.items)-1]
	q.items = q.items[:len(q.items)-1]
	return c, true
}

// ids returns the community ids in processing order
func (q *queue) ids() []int64 {
	ids := make([]int64, len(q.items))
	for i := range q.items {
		ids[i] = q.items[len(q.items)-1-i].VKID
	}
	return ids
}
