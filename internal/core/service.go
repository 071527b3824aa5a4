package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/bradfitz/android-squeezer-sub002/internal/ports"
	"github.com/bradfitz/android-squeezer-sub002/internal/session"
	"github.com/bradfitz/android-squeezer-sub002/pkg/slim"
)

// Service orchestrates squeezectl use cases over one session.
type Service struct {
	Session *session.Session
	Clock   ports.Clock
	Config  Config
}

// ListRequest selects a list and its filters.
type ListRequest struct {
	Kind       string
	Player     string // player selector, used by plugin item lists
	Plugin     string // plugin command for "items", e.g. "podcast"
	Search     string
	ArtistID   string
	AlbumID    string
	GenreID    string
	Year       string
	PlaylistID string
	FolderID   string
	ItemID     string
}

// listCommands maps list kinds to extended query commands.
var listCommands = map[string]string{
	"players":   "players",
	"artists":   "artists",
	"albums":    "albums",
	"genres":    "genres",
	"years":     "years",
	"songs":     "songs",
	"playlists": "playlists",
	"tracks":    "playlists tracks",
	"folders":   "musicfolder",
	"apps":      "apps",
	"radios":    "radios",
	"items":     "items",
}

// ListKinds returns the list kinds List understands.
func ListKinds() []string {
	kinds := make([]string, 0, len(listCommands))
	for k := range listCommands {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// loadKeys maps item kinds to playlistcontrol keys.
var loadKeys = map[string]string{
	"album":    "album_id",
	"artist":   "artist_id",
	"genre":    "genre_id",
	"song":     "track_id",
	"track":    "track_id",
	"playlist": "playlist_id",
	"folder":   "folder_id",
}

// Connect opens the session to server, or to the configured server when empty.
func (s Service) Connect(ctx context.Context, server string) error {
	if server == "" {
		server = s.Config.Server
	}
	if server == "" {
		return &CLIError{Code: ExitUsage, Msg: "server required (--server or config)"}
	}
	if err := s.Session.Connect(ctx, server); err != nil {
		return WrapError(ExitConnect, "connect", err)
	}
	return nil
}

// Players lists the server's players.
func (s Service) Players(ctx context.Context) (PlayersResult, error) {
	players, err := session.Collect(ctx, s.Session, session.Players, session.Query{Command: "players"})
	if err != nil {
		return PlayersResult{}, ErrorForSession("list players", err)
	}
	result := PlayersResult{Players: players}
	if p, ok := s.Session.ActivePlayer(); ok {
		result.Active = p.ID
	}
	return result, nil
}

// UsePlayer resolves selector and makes that player active. With no selector
// and no configured default, the player the session selected itself is kept.
func (s Service) UsePlayer(ctx context.Context, selector string) (slim.Player, error) {
	players, err := s.Players(ctx)
	if err != nil {
		return slim.Player{}, err
	}
	if selector == "" && s.Config.Player == "" {
		if p, ok := s.Session.ActivePlayer(); ok {
			return p, nil
		}
	}
	p, err := ResolvePlayer(selector, s.Config.Player, players.Players, s.Config.Aliases)
	if err != nil {
		return slim.Player{}, err
	}
	s.Session.SetActivePlayer(p)
	return p, nil
}

// Status returns the current state of a player.
func (s Service) Status(ctx context.Context, selector string) (StatusResult, error) {
	if _, err := s.UsePlayer(ctx, selector); err != nil {
		return StatusResult{}, err
	}
	st, err := s.Session.Status(ctx)
	if err != nil {
		return StatusResult{}, ErrorForSession("get status", err)
	}
	result := StatusResult{
		Server:  s.Session.Host(),
		Version: s.Session.ServerVersion(),
		Player:  st.Player,
		State:   st,
		Elapsed: st.ElapsedAt(s.Clock.Now()),
	}
	if st.Current != nil {
		id := st.Current.ArtworkTrackID
		if id == "" {
			id = st.Current.ID
		}
		result.ArtworkURL = s.Session.ArtworkURL(id)
	}
	return result, nil
}

// List fetches a complete list.
func (s Service) List(ctx context.Context, req ListRequest) (ListResult, error) {
	name, ok := listCommands[req.Kind]
	if !ok {
		return ListResult{}, &CLIError{Code: ExitUsage, Msg: fmt.Sprintf("unknown list %q (want one of %s)", req.Kind, strings.Join(ListKinds(), ", "))}
	}
	cmd, _ := slim.LookupQuery(name)
	params, err := listParams(cmd, req)
	if err != nil {
		return ListResult{}, err
	}
	if cmd.Prefixed && req.Plugin == "" {
		return ListResult{}, &CLIError{Code: ExitUsage, Msg: fmt.Sprintf("%s requires a plugin command", req.Kind)}
	}
	if name == "playlists tracks" && req.PlaylistID == "" {
		return ListResult{}, &CLIError{Code: ExitUsage, Msg: "tracks requires a playlist id"}
	}
	if cmd.PlayerSpecific {
		if _, err := s.UsePlayer(ctx, req.Player); err != nil {
			return ListResult{}, err
		}
	}

	q := session.Query{Command: name, Prefix: req.Plugin, Params: params}
	var (
		items any
		n     int
	)
	switch req.Kind {
	case "players":
		items, n, err = collectList(ctx, s.Session, session.Players, q)
	case "artists":
		items, n, err = collectList(ctx, s.Session, session.Artists, q)
	case "albums":
		items, n, err = collectList(ctx, s.Session, session.Albums, q)
	case "genres":
		items, n, err = collectList(ctx, s.Session, session.Genres, q)
	case "years":
		items, n, err = collectList(ctx, s.Session, session.Years, q)
	case "songs", "tracks":
		items, n, err = collectList(ctx, s.Session, session.Songs, q)
	case "playlists":
		items, n, err = collectList(ctx, s.Session, session.Playlists, q)
	case "folders":
		items, n, err = collectList(ctx, s.Session, session.MusicFolders, q)
	case "apps", "radios":
		items, n, err = collectList(ctx, s.Session, session.Plugins, q)
	case "items":
		items, n, err = collectList(ctx, s.Session, session.PluginItems, q)
	}
	if err != nil {
		return ListResult{}, ErrorForSession("list "+req.Kind, err)
	}
	return ListResult{Kind: req.Kind, Count: n, Items: items}, nil
}

func collectList[T any](ctx context.Context, sess *session.Session, kind session.Kind[T], q session.Query) (any, int, error) {
	items, err := session.Collect(ctx, sess, kind, q)
	return items, len(items), err
}

// listParams renders the request filters, rejecting filters the command
// would not carry across pages.
func listParams(cmd slim.QueryCommand, req ListRequest) ([]string, error) {
	filters := []struct{ key, value string }{
		{"search", req.Search},
		{"artist_id", req.ArtistID},
		{"album_id", req.AlbumID},
		{"genre_id", req.GenreID},
		{"year", req.Year},
		{"playlist_id", req.PlaylistID},
		{"folder_id", req.FolderID},
		{"item_id", req.ItemID},
	}
	var params []string
	for _, f := range filters {
		if f.value == "" {
			continue
		}
		if !cmd.IsTagged(f.key) {
			return nil, &CLIError{Code: ExitUsage, Msg: fmt.Sprintf("%s does not support the %s filter", req.Kind, f.key)}
		}
		params = append(params, slim.Param(f.key, f.value))
	}
	return params, nil
}

// Search runs a library search and returns every matching item per type.
func (s Service) Search(ctx context.Context, term string) (SearchResult, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return SearchResult{}, &CLIError{Code: ExitUsage, Msg: "search term required"}
	}
	found, err := s.Session.Search(ctx, term)
	if err != nil {
		return SearchResult{}, ErrorForSession("search", err)
	}
	return SearchResult{
		Term:    term,
		Artists: found.Artists,
		Albums:  found.Albums,
		Genres:  found.Genres,
		Songs:   found.Songs,
	}, nil
}

// Control applies a transport command to a player.
func (s Service) Control(ctx context.Context, selector string, cmd Command) (OKResult, error) {
	p, err := s.UsePlayer(ctx, selector)
	if err != nil {
		return OKResult{}, err
	}
	if err := Apply(s.Session, cmd); err != nil {
		return OKResult{}, err
	}
	return OKResult{Player: p.Name, Command: cmd.Type}, nil
}

// Load loads, adds or inserts a library item into a player's playlist.
func (s Service) Load(ctx context.Context, selector string, action session.PlaylistAction, kind, id string) (OKResult, error) {
	key, ok := loadKeys[kind]
	if !ok {
		return OKResult{}, &CLIError{Code: ExitUsage, Msg: fmt.Sprintf("cannot load %q", kind)}
	}
	if id == "" {
		return OKResult{}, &CLIError{Code: ExitUsage, Msg: "item id required"}
	}
	p, err := s.UsePlayer(ctx, selector)
	if err != nil {
		return OKResult{}, err
	}
	if !s.Session.PlaylistControl(action, key, id) {
		return OKResult{}, WrapError(ExitConnect, string(action)+" not sent", ErrNotSent)
	}
	return OKResult{Player: p.Name, Command: string(action) + " " + kind}, nil
}

// Watch streams player changes to fn until ctx is done, the connection
// drops or fn fails. The current state is delivered first.
func (s Service) Watch(ctx context.Context, selector string, fn func(WatchEvent) error) error {
	if _, err := s.UsePlayer(ctx, selector); err != nil {
		return err
	}

	events := make(chan WatchEvent, 64)
	lost := make(chan struct{}, 1)
	push := func(kind string) {
		st, ok := s.Session.PlayerState()
		if !ok {
			return
		}
		select {
		case events <- WatchEvent{Type: kind, State: st}:
		default:
		}
	}
	remove := s.Session.AddListener(session.Listener{
		Connection: func(connected, _ bool) {
			if !connected {
				select {
				case lost <- struct{}{}:
				default:
				}
			}
		},
		MusicChanged:        func(session.PlayerState) { push("music") },
		TimeChanged:         func(int, int) { push("time") },
		PlayStatusChanged:   func(bool) { push("status") },
		VolumeChanged:       func(int) { push("volume") },
		PowerChanged:        func(bool) { push("power") },
		ActivePlayerChanged: func(slim.Player) { push("player") },
	})
	defer remove()

	st, err := s.Session.Status(ctx)
	if err != nil {
		return ErrorForSession("get status", err)
	}
	if err := fn(WatchEvent{Type: "status", State: st}); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-lost:
			return ErrorForSession("watch", session.ErrNotConnected)
		case ev := <-events:
			if err := fn(ev); err != nil {
				return err
			}
		}
	}
}
