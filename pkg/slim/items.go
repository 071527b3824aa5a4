package slim

import "strconv"

// Album is a decoded albums record.
type Album struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Artist         string `json:"artist,omitempty"`
	Year           int    `json:"year,omitempty"`
	ArtworkTrackID string `json:"artworkTrackId,omitempty"`
}

// Artist is a decoded artists record.
type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Genre is a decoded genres record.
type Genre struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Year is a decoded years record.
type Year struct {
	Year string `json:"year"`
}

// Song is a decoded track record.
type Song struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Artist         string  `json:"artist,omitempty"`
	ArtistID       string  `json:"artistId,omitempty"`
	Album          string  `json:"album,omitempty"`
	AlbumID        string  `json:"albumId,omitempty"`
	Year           int     `json:"year,omitempty"`
	TrackNum       int     `json:"trackNum,omitempty"`
	Duration       float64 `json:"duration,omitempty"`
	ArtworkTrackID string  `json:"artworkTrackId,omitempty"`
	ArtworkURL     string  `json:"artworkUrl,omitempty"`
	URL            string  `json:"url,omitempty"`
	Remote         bool    `json:"remote,omitempty"`
}

// Playlist is a decoded playlists record.
type Playlist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Player is a decoded players record.
type Player struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Model       string `json:"model,omitempty"`
	IP          string `json:"ip,omitempty"`
	Connected   bool   `json:"connected"`
	CanPowerOff bool   `json:"canPowerOff"`
}

// Plugin is a decoded apps or radios record.
type Plugin struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Icon   string `json:"icon,omitempty"`
	Type   string `json:"type,omitempty"`
	Weight int    `json:"weight,omitempty"`
}

// PluginItem is a decoded "<plugin> items" record.
type PluginItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	Type        string `json:"type,omitempty"`
	HasItems    bool   `json:"hasItems"`
	IsAudio     bool   `json:"isAudio"`
}

// MusicFolderItem is a decoded musicfolder record.
type MusicFolderItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

// NewAlbum decodes an albums or search record.
func NewAlbum(rec Record) Album {
	return Album{
		ID:             first(rec, "id", "album_id"),
		Name:           rec["album"],
		Artist:         rec["artist"],
		Year:           atoi(rec["year"]),
		ArtworkTrackID: rec["artwork_track_id"],
	}
}

// NewArtist decodes an artists or search record.
func NewArtist(rec Record) Artist {
	return Artist{
		ID:   first(rec, "id", "contributor_id"),
		Name: first(rec, "artist", "contributor"),
	}
}

// NewGenre decodes a genres or search record.
func NewGenre(rec Record) Genre {
	return Genre{
		ID:   first(rec, "id", "genre_id"),
		Name: rec["genre"],
	}
}

// NewYear decodes a years record.
func NewYear(rec Record) Year {
	return Year{Year: rec["year"]}
}

// NewSong decodes a songs, playlist track, status or search record.
func NewSong(rec Record) Song {
	return Song{
		ID:             first(rec, "id", "track_id"),
		Name:           first(rec, "title", "track"),
		Artist:         rec["artist"],
		ArtistID:       rec["artist_id"],
		Album:          rec["album"],
		AlbumID:        rec["album_id"],
		Year:           atoi(rec["year"]),
		TrackNum:       atoi(rec["tracknum"]),
		Duration:       atof(rec["duration"]),
		ArtworkTrackID: rec["artwork_track_id"],
		ArtworkURL:     rec["artwork_url"],
		URL:            rec["url"],
		Remote:         atoi(rec["remote"]) != 0,
	}
}

// NewPlaylist decodes a playlists record.
func NewPlaylist(rec Record) Playlist {
	return Playlist{ID: rec["id"], Name: rec["playlist"]}
}

// NewPlayer decodes a players record.
func NewPlayer(rec Record) Player {
	return Player{
		ID:          rec["playerid"],
		Name:        rec["name"],
		Model:       rec["model"],
		IP:          rec["ip"],
		Connected:   atoi(rec["connected"]) != 0,
		CanPowerOff: atoi(rec["canpoweroff"]) != 0,
	}
}

// NewPlugin decodes an apps or radios record.
func NewPlugin(rec Record) Plugin {
	return Plugin{
		ID:     rec["cmd"],
		Name:   rec["name"],
		Icon:   rec["icon"],
		Type:   rec["type"],
		Weight: atoi(rec["weight"]),
	}
}

// NewPluginItem decodes a plugin items record.
func NewPluginItem(rec Record) PluginItem {
	return PluginItem{
		ID:          rec["id"],
		Name:        rec["name"],
		Description: rec["description"],
		Image:       rec["image"],
		Type:        rec["type"],
		HasItems:    atoi(rec["hasitems"]) != 0,
		IsAudio:     atoi(rec["isaudio"]) != 0,
	}
}

// NewMusicFolderItem decodes a musicfolder record.
func NewMusicFolderItem(rec Record) MusicFolderItem {
	return MusicFolderItem{
		ID:   rec["id"],
		Name: rec["filename"],
		Type: rec["type"],
		URL:  rec["url"],
	}
}

func first(rec Record, keys ...string) string {
	for _, key := range keys {
		if v, ok := rec[key]; ok && v != "" {
			return v
		}
	}
	return ""
}

func atof(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
