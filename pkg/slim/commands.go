package slim

import "strings"

// ResultType identifies the kind of item carried by a list reply.
type ResultType int

const (
	ResultAlbums ResultType = iota + 1
	ResultArtists
	ResultGenres
	ResultYears
	ResultSongs
	ResultPlaylists
	ResultPlayers
	ResultPlugins
	ResultPluginItems
	ResultMusicFolders
)

var resultTypeNames = map[ResultType]string{
	ResultAlbums:       "albums",
	ResultArtists:      "artists",
	ResultGenres:       "genres",
	ResultYears:        "years",
	ResultSongs:        "songs",
	ResultPlaylists:    "playlists",
	ResultPlayers:      "players",
	ResultPlugins:      "plugins",
	ResultPluginItems:  "plugin_items",
	ResultMusicFolders: "music_folders",
}

func (t ResultType) String() string {
	if name, ok := resultTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ItemSpec describes one kind of record inside a list reply.
type ItemSpec struct {
	Type      ResultType
	Delimiter string // key that starts a new record
	CountKey  string // key carrying the total number of records
}

// QueryCommand is an extended query format command: a paged list query
// whose replies carry a count and delimiter-separated records.
type QueryCommand struct {
	Name           string
	PlayerSpecific bool
	Prefixed       bool
	DefaultTags    string
	TaggedParams   []string
	Items          []ItemSpec
}

// Offset is the index of the start token in a reply to c.
func (c QueryCommand) Offset() int {
	n := len(strings.Fields(c.Name))
	if c.PlayerSpecific {
		n++
	}
	if c.Prefixed {
		n++
	}
	return n
}

// IsTagged reports whether key must be repeated on every continuation page.
func (c QueryCommand) IsTagged(key string) bool {
	for _, k := range c.TaggedParams {
		if k == key {
			return true
		}
	}
	return false
}

// ItemFor returns the item spec delimited by key.
func (c QueryCommand) ItemFor(key string) (ItemSpec, bool) {
	for _, item := range c.Items {
		if item.Delimiter == key {
			return item, true
		}
	}
	return ItemSpec{}, false
}

// IsCount reports whether key is one of the count keys of c.
func (c QueryCommand) IsCount(key string) bool {
	for _, item := range c.Items {
		if item.CountKey == key {
			return true
		}
	}
	return false
}

func single(t ResultType, delimiter string) []ItemSpec {
	return []ItemSpec{{Type: t, Delimiter: delimiter, CountKey: "count"}}
}

var queries = []QueryCommand{
	{
		Name:  "players",
		Items: single(ResultPlayers, "playerid"),
	},
	{
		Name:         "artists",
		TaggedParams: []string{"search", "genre_id", "album_id", "tags"},
		Items:        single(ResultArtists, "id"),
	},
	{
		Name:         "albums",
		DefaultTags:  "jlay",
		TaggedParams: []string{"search", "genre_id", "artist_id", "track_id", "year", "sort", "tags"},
		Items:        single(ResultAlbums, "id"),
	},
	{
		Name:  "years",
		Items: single(ResultYears, "year"),
	},
	{
		Name:         "genres",
		TaggedParams: []string{"search", "artist_id", "album_id", "track_id", "year", "tags"},
		Items:        single(ResultGenres, "id"),
	},
	{
		Name:         "songs",
		DefaultTags:  "adeJKlstuxy",
		TaggedParams: []string{"genre_id", "artist_id", "album_id", "year", "search", "sort", "tags"},
		Items:        single(ResultSongs, "id"),
	},
	{
		Name:         "playlists",
		TaggedParams: []string{"search", "tags"},
		Items:        single(ResultPlaylists, "id"),
	},
	{
		Name:         "playlists tracks",
		DefaultTags:  "adeJKlstuxy",
		TaggedParams: []string{"playlist_id", "tags"},
		Items:        single(ResultSongs, "id"),
	},
	{
		Name:         "musicfolder",
		TaggedParams: []string{"folder_id", "url", "tags"},
		Items:        single(ResultMusicFolders, "id"),
	},
	{
		Name:  "apps",
		Items: single(ResultPlugins, "cmd"),
	},
	{
		Name:  "radios",
		Items: single(ResultPlugins, "cmd"),
	},
	{
		Name:           "items",
		PlayerSpecific: true,
		Prefixed:       true,
		TaggedParams:   []string{"item_id", "search", "want_url"},
		Items:          single(ResultPluginItems, "id"),
	},
	{
		Name:         "search",
		TaggedParams: []string{"term"},
		Items: []ItemSpec{
			{Type: ResultGenres, Delimiter: "genre_id", CountKey: "genres_count"},
			{Type: ResultAlbums, Delimiter: "album_id", CountKey: "albums_count"},
			{Type: ResultArtists, Delimiter: "contributor_id", CountKey: "contributors_count"},
			{Type: ResultSongs, Delimiter: "track_id", CountKey: "tracks_count"},
		},
	},
}

// Queries returns the known extended query commands.
func Queries() []QueryCommand {
	out := make([]QueryCommand, len(queries))
	copy(out, queries)
	return out
}

// LookupQuery finds a query command by name.
func LookupQuery(name string) (QueryCommand, bool) {
	for _, q := range queries {
		if q.Name == name {
			return q, true
		}
	}
	return QueryCommand{}, false
}
