package session

import (
	"context"

	"github.com/bradfitz/android-squeezer-sub002/pkg/slim"
)

// SearchResults holds every library item a search matched, per type.
type SearchResults struct {
	Artists []slim.Artist
	Albums  []slim.Album
	Genres  []slim.Genre
	Songs   []slim.Song
}

// Search runs one search query for term and collects all four result types
// from its replies. The server reports a separate count per type, so paging
// continues until the longest list is complete. It replaces any subscribers
// registered for those kinds while it runs.
func (s *Session) Search(ctx context.Context, term string) (SearchResults, error) {
	artists, albums := newCollector[slim.Artist](), newCollector[slim.Album]()
	genres, songs := newCollector[slim.Genre](), newCollector[slim.Song]()
	subs := []*Subscription{
		Subscribe(s, Artists, artists.add),
		Subscribe(s, Albums, albums.add),
		Subscribe(s, Genres, genres.add),
		Subscribe(s, Songs, songs.add),
	}
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}()

	q := Query{Command: "search", Params: []string{slim.Param("term", term)}}
	if err := s.fetchAndWait(ctx, q, artists.done, albums.done, genres.done, songs.done); err != nil {
		return SearchResults{}, err
	}
	return SearchResults{
		Artists: artists.result(),
		Albums:  albums.result(),
		Genres:  genres.result(),
		Songs:   songs.result(),
	}, nil
}
