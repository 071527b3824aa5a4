package session

import (
	"fmt"
	"sync"

	"github.com/bradfitz/android-squeezer-sub002/pkg/slim"
	"go.uber.org/zap"
)

// Page is one delivered slice of a list.
type Page[T any] struct {
	Count  int
	Start  int
	Items  []T
	Params slim.Record
}

// Kind binds a result type to the decoder for its records.
type Kind[T any] struct {
	Type   slim.ResultType
	Decode func(slim.Record) T
}

var (
	Albums       = Kind[slim.Album]{Type: slim.ResultAlbums, Decode: slim.NewAlbum}
	Artists      = Kind[slim.Artist]{Type: slim.ResultArtists, Decode: slim.NewArtist}
	Genres       = Kind[slim.Genre]{Type: slim.ResultGenres, Decode: slim.NewGenre}
	Years        = Kind[slim.Year]{Type: slim.ResultYears, Decode: slim.NewYear}
	Songs        = Kind[slim.Song]{Type: slim.ResultSongs, Decode: slim.NewSong}
	Playlists    = Kind[slim.Playlist]{Type: slim.ResultPlaylists, Decode: slim.NewPlaylist}
	Players      = Kind[slim.Player]{Type: slim.ResultPlayers, Decode: slim.NewPlayer}
	Plugins      = Kind[slim.Plugin]{Type: slim.ResultPlugins, Decode: slim.NewPlugin}
	PluginItems  = Kind[slim.PluginItem]{Type: slim.ResultPluginItems, Decode: slim.NewPluginItem}
	MusicFolders = Kind[slim.MusicFolderItem]{Type: slim.ResultMusicFolders, Decode: slim.NewMusicFolderItem}
)

// delivery is a type-erased page on its way to a subscriber.
type delivery struct {
	Count   int
	Start   int
	Records []slim.Record
	Params  slim.Record
}

type subscriber struct {
	id      uint64
	deliver func(delivery) error
}

// dispatcher holds at most one subscriber per result type.
type dispatcher struct {
	log     *zap.Logger
	tracker *Tracker

	mu     sync.Mutex
	nextID uint64
	subs   map[slim.ResultType]subscriber
}

func newDispatcher(log *zap.Logger, tracker *Tracker) *dispatcher {
	return &dispatcher{
		log:     log,
		tracker: tracker,
		subs:    map[slim.ResultType]subscriber{},
	}
}

// Subscription is a registered list callback.
type Subscription struct {
	d  *dispatcher
	rt slim.ResultType
	id uint64
}

// Subscribe registers fn for every page of kind, replacing any earlier subscriber.
// fn runs on the connection's reader goroutine.
func Subscribe[T any](s *Session, kind Kind[T], fn func(Page[T]) error) *Subscription {
	return s.dispatch.register(kind.Type, func(d delivery) error {
		items := make([]T, 0, len(d.Records))
		for _, rec := range d.Records {
			items = append(items, kind.Decode(rec))
		}
		return fn(Page[T]{Count: d.Count, Start: d.Start, Items: items, Params: d.Params})
	})
}

// Unsubscribe removes the subscription if it is still the registered one and
// marks replies already in flight for its type as obsolete.
func (sub *Subscription) Unsubscribe() bool {
	return sub.d.unregister(sub.rt, sub.id)
}

func (d *dispatcher) register(rt slim.ResultType, fn func(delivery) error) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.subs[rt] = subscriber{id: d.nextID, deliver: fn}
	return &Subscription{d: d, rt: rt, id: d.nextID}
}

func (d *dispatcher) unregister(rt slim.ResultType, id uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	sub, ok := d.subs[rt]
	if !ok || sub.id != id {
		return false
	}
	delete(d.subs, rt)
	d.tracker.CancelType(rt)
	return true
}

// dispatch hands a page to the subscriber for rt. A missing subscriber is the
// normal case and drops the page; a failing subscriber is logged and skipped.
func (d *dispatcher) dispatch(rt slim.ResultType, page delivery) bool {
	d.mu.Lock()
	sub, ok := d.subs[rt]
	d.mu.Unlock()
	if !ok {
		return false
	}
	if err := safeDeliver(sub, page); err != nil {
		d.log.Warn("list subscriber failed",
			zap.Stringer("type", rt),
			zap.Int("start", page.Start),
			zap.Error(err),
		)
		return false
	}
	return true
}

func safeDeliver(sub subscriber, page delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return sub.deliver(page)
}
