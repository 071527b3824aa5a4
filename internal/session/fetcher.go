package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bradfitz/android-squeezer-sub002/pkg/slim"
	"go.uber.org/zap"
)

// Query describes a list fetch.
type Query struct {
	Command string   // extended query command, e.g. "albums" or "playlists tracks"
	Prefix  string   // plugin command for "<prefix> items"
	Params  []string // outbound parameters built with slim.Param
	All     bool     // keep paging past page boundaries until the list is complete
}

func (q Query) key() string {
	if q.Prefix == "" {
		return q.Command
	}
	return q.Prefix + " " + q.Command
}

func batchKey(b *slim.Batch) string {
	return Query{Command: b.Command.Name, Prefix: b.Prefix}.key()
}

// Fetch requests the page of q starting at start. Starting at 0 restarts the
// fetch: earlier replies for the same command become obsolete and a single
// item is requested to learn the total count. Later pages follow reactively.
func (s *Session) Fetch(q Query, start int) bool {
	cmd, ok := slim.LookupQuery(q.Command)
	if !ok {
		s.log.Warn("unknown list command", zap.String("command", q.Command))
		return false
	}
	if cmd.Prefixed && q.Prefix == "" {
		s.log.Warn("list command requires a prefix", zap.String("command", q.Command))
		return false
	}
	playerID := ""
	if cmd.PlayerSpecific {
		if playerID = s.player.id(); playerID == "" {
			return false
		}
	}
	if !s.Connected() {
		return false
	}

	params := make([]string, 0, len(q.Params)+1)
	if cmd.DefaultTags != "" && !hasParam(q.Params, "tags") {
		params = append(params, slim.Param("tags", cmd.DefaultTags))
	}
	params = append(params, q.Params...)

	count := s.pageSize
	if start == 0 {
		count = 1
		s.setFetchAll(q.key(), q.All)
		s.tracker.CancelCommand(cmd.Name)
	}
	req := slim.Request{
		PlayerID: playerID,
		Prefix:   q.Prefix,
		Command:  cmd.Name,
		Start:    start,
		Count:    count,
		Params:   params,
	}
	return s.send(req.Line())
}

func hasParam(params []string, key string) bool {
	for _, p := range params {
		if strings.HasPrefix(p, key+":") {
			return true
		}
	}
	return false
}

func (s *Session) setFetchAll(key string, all bool) {
	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()
	s.fetchAll[key] = all
}

func (s *Session) fetchesAll(key string) bool {
	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()
	return s.fetchAll[key]
}

// handleQueryReply dispatches a list reply and requests its continuation.
func (s *Session) handleQueryReply(cmd slim.QueryCommand, tokens []string) {
	b, err := slim.ParseBatch(cmd, tokens)
	if err != nil {
		s.log.Warn("dropping malformed list reply", zap.String("command", cmd.Name), zap.Error(err))
		return
	}
	if !s.tracker.AcceptsCommand(cmd.Name, b.CorrelationID) {
		s.log.Debug("dropping obsolete list reply",
			zap.String("command", cmd.Name),
			zap.Int32("correlation_id", b.CorrelationID),
		)
		return
	}

	total := 0
	for _, spec := range cmd.Items {
		count, known := b.Total(spec)
		if count > total {
			total = count
		}
		if !known && b.Start != 0 {
			continue
		}
		if !s.tracker.AcceptsType(spec.Type, b.CorrelationID) {
			continue
		}
		records := b.Items[spec.Type]
		if spec.Type == slim.ResultPlayers {
			s.playersReceived(b.Start, count, records)
		}
		s.dispatch.dispatch(spec.Type, delivery{
			Count:   count,
			Start:   b.Start,
			Records: records,
			Params:  b.Params,
		})
	}

	n := nextPageSize(b.End(), total, s.pageSize, s.fetchesAll(batchKey(b)))
	if n == 0 {
		return
	}
	next := slim.Request{
		PlayerID: b.PlayerID,
		Prefix:   b.Prefix,
		Command:  cmd.Name,
		Start:    b.End(),
		Count:    n,
		Params:   b.Tagged,
	}
	s.send(next.Line())
}

// nextPageSize returns how many items to request at end, or 0 to stop.
// An unaligned end is completed up to the next page boundary; aligned ends
// continue only for fetches that want the whole list.
func nextPageSize(end, total, pageSize int, all bool) int {
	if pageSize <= 0 || end >= total {
		return 0
	}
	if rem := end % pageSize; rem != 0 {
		return min(pageSize-rem, total-end)
	}
	if all {
		return min(pageSize, total-end)
	}
	return 0
}

// collector accumulates the pages of one list until it is complete.
type collector[T any] struct {
	mu       sync.Mutex
	items    []T
	finished bool
	done     chan struct{}
}

func newCollector[T any]() *collector[T] {
	return &collector[T]{done: make(chan struct{})}
}

func (c *collector[T]) add(p Page[T]) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return nil
	}
	if p.Start != len(c.items) {
		if p.Start != 0 {
			return fmt.Errorf("unexpected page at %d, have %d items", p.Start, len(c.items))
		}
		c.items = c.items[:0]
	}
	c.items = append(c.items, p.Items...)
	if len(c.items) >= p.Count {
		c.items = c.items[:p.Count]
		c.finished = true
		close(c.done)
	}
	return nil
}

func (c *collector[T]) result() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

// fetchAndWait sends q as a whole-list fetch and blocks until every done
// channel closes, ctx ends or the connection drops.
func (s *Session) fetchAndWait(ctx context.Context, q Query, done ...<-chan struct{}) error {
	lost := make(chan struct{}, 1)
	remove := s.AddListener(Listener{Connection: func(connected, _ bool) {
		if !connected {
			select {
			case lost <- struct{}{}:
			default:
			}
		}
	}})
	defer remove()

	q.All = true
	if !s.Fetch(q, 0) {
		return fmt.Errorf("fetch %s: %w", q.Command, ErrNotConnected)
	}
	for _, d := range done {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-lost:
			return fmt.Errorf("fetch %s: %w", q.Command, ErrNotConnected)
		case <-d:
		}
	}
	return nil
}

// Collect fetches every item of q and returns them in order. It replaces any
// subscriber registered for kind while it runs.
func Collect[T any](ctx context.Context, s *Session, kind Kind[T], q Query) ([]T, error) {
	c := newCollector[T]()
	sub := Subscribe(s, kind, c.add)
	defer sub.Unsubscribe()

	if err := s.fetchAndWait(ctx, q, c.done); err != nil {
		return nil, err
	}
	return c.result(), nil
}
