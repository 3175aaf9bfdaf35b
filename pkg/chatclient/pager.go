package chatclient

import (
	"context"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/4xmen/goftegu/pkg/protocol"
)

const DefaultPageSize = 30

// HistoryFunc fetches server records of one conversation, newest first.
type HistoryFunc func(ctx context.Context, skip, take int) ([]protocol.Message, error)

// Pager walks a conversation backward. Its cursor is the number of server
// records loaded so far, used as skip.
type Pager struct {
	fetch HistoryFunc
	take  int
	group singleflight.Group

	mu        sync.Mutex
	loaded    int
	hasMore   bool
	restoring bool
}

func NewPager(fetch HistoryFunc, take int) *Pager {
	if take <= 0 {
		take = DefaultPageSize
	}
	return &Pager{fetch: fetch, take: take, hasMore: true}
}

// Reset sets the cursor after the latest page was loaded.
func (p *Pager) Reset(loaded int, hasMore bool) {
	p.mu.Lock()
	p.loaded = loaded
	p.hasMore = hasMore
	p.mu.Unlock()
}

// Refreshed records a reload of the newest page. The cursor never moves back
// over older pages that were already loaded.
func (p *Pager) Refreshed(newest int, hasMore bool) {
	p.mu.Lock()
	if newest >= p.loaded {
		p.loaded = newest
		p.hasMore = hasMore
	}
	p.mu.Unlock()
}

func (p *Pager) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasMore
}

// BeginRestore marks the start of the scroll adjustment that follows a
// fetch. Older does nothing until EndRestore.
func (p *Pager) BeginRestore() {
	p.mu.Lock()
	p.restoring = true
	p.mu.Unlock()
}

func (p *Pager) EndRestore() {
	p.mu.Lock()
	p.restoring = false
	p.mu.Unlock()
}

// Older fetches the next older page and returns it oldest first. Concurrent
// calls share one request. It returns nil when there is nothing older or a
// restore is in progress.
func (p *Pager) Older(ctx context.Context) ([]protocol.Message, error) {
	p.mu.Lock()
	if p.restoring || !p.hasMore {
		p.mu.Unlock()
		return nil, nil
	}
	p.mu.Unlock()

	v, err, _ := p.group.Do("older", func() (any, error) {
		p.mu.Lock()
		skip := p.loaded
		p.mu.Unlock()

		page, err := p.fetch(ctx, skip, p.take)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		p.loaded += len(page)
		p.hasMore = len(page) == p.take
		p.mu.Unlock()

		slices.Reverse(page)
		return page, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]protocol.Message), nil
}
