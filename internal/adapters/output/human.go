package output

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bradfitz/android-squeezer-sub002/internal/core"
	"github.com/bradfitz/android-squeezer-sub002/pkg/slim"
	"github.com/pterm/pterm"
)

// HumanPrinter prints tables and summaries for a terminal.
type HumanPrinter struct {
	Out io.Writer
}

// Print renders human output.
func (p HumanPrinter) Print(v any) error {
	w := writer(p.Out)
	switch data := v.(type) {
	case core.PlayersResult:
		return printPlayers(w, data)
	case core.StatusResult:
		return printStatus(w, data)
	case core.ListResult:
		return printList(w, data)
	case core.SearchResult:
		return printSearch(w, data)
	case core.WatchEvent:
		return printWatch(w, data)
	case core.OKResult:
		_, err := fmt.Fprintf(w, "%s: %s\n", data.Player, data.Command)
		return err
	default:
		_, err := fmt.Fprintln(w, "ok")
		return err
	}
}

func printTable(w io.Writer, data pterm.TableData) error {
	if len(data) == 1 {
		_, err := fmt.Fprintln(w, "(none)")
		return err
	}
	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, out)
	return err
}

func printPlayers(w io.Writer, result core.PlayersResult) error {
	data := pterm.TableData{{"", "NAME", "ID", "MODEL", "CONNECTED"}}
	for _, p := range result.Players {
		mark := ""
		if p.ID == result.Active {
			mark = "*"
		}
		data = append(data, []string{mark, p.Name, p.ID, p.Model, yesNo(p.Connected)})
	}
	return printTable(w, data)
}

func printStatus(w io.Writer, result core.StatusResult) error {
	st := result.State
	server := result.Server
	if result.Version != "" {
		server += " (" + result.Version + ")"
	}
	lines := [][2]string{
		{"Server", server},
		{"Player", fmt.Sprintf("%s [%s]", result.Player.Name, result.Player.ID)},
		{"Power", onOff(st.Power)},
		{"State", st.Status.String()},
		{"Volume", strconv.Itoa(st.Volume)},
		{"Shuffle", st.Shuffle.String()},
		{"Repeat", st.Repeat.String()},
	}
	if st.Current != nil {
		lines = append(lines,
			[2]string{"Track", describeSong(*st.Current)},
			[2]string{"Position", fmt.Sprintf("%s / %s", clock(result.Elapsed), clock(st.Duration))},
		)
	}
	if st.PlaylistTracks > 0 {
		lines = append(lines, [2]string{"Playlist", fmt.Sprintf("%d of %d", st.PlaylistIndex+1, st.PlaylistTracks)})
	}
	if st.SleepDuration > 0 {
		lines = append(lines, [2]string{"Sleep", clock(st.SleepRemaining)})
	}
	if result.ArtworkURL != "" {
		lines = append(lines, [2]string{"Artwork", result.ArtworkURL})
	}
	for _, l := range lines {
		if _, err := fmt.Fprintf(w, "%-9s %s\n", l[0]+":", l[1]); err != nil {
			return err
		}
	}
	return nil
}

func printList(w io.Writer, result core.ListResult) error {
	switch items := result.Items.(type) {
	case []slim.Player:
		return printPlayers(w, core.PlayersResult{Players: items})
	case []slim.Artist:
		return printTable(w, artistRows(items))
	case []slim.Album:
		return printTable(w, albumRows(items))
	case []slim.Genre:
		return printTable(w, genreRows(items))
	case []slim.Song:
		return printTable(w, songRows(items))
	case []slim.Year:
		data := pterm.TableData{{"YEAR"}}
		for _, y := range items {
			data = append(data, []string{y.Year})
		}
		return printTable(w, data)
	case []slim.Playlist:
		data := pterm.TableData{{"NAME", "ID"}}
		for _, pl := range items {
			data = append(data, []string{pl.Name, pl.ID})
		}
		return printTable(w, data)
	case []slim.MusicFolderItem:
		data := pterm.TableData{{"NAME", "TYPE", "ID"}}
		for _, f := range items {
			data = append(data, []string{f.Name, f.Type, f.ID})
		}
		return printTable(w, data)
	case []slim.Plugin:
		data := pterm.TableData{{"NAME", "COMMAND", "TYPE"}}
		for _, pl := range items {
			data = append(data, []string{pl.Name, pl.ID, pl.Type})
		}
		return printTable(w, data)
	case []slim.PluginItem:
		data := pterm.TableData{{"NAME", "ID", "TYPE", "MORE"}}
		for _, it := range items {
			data = append(data, []string{it.Name, it.ID, it.Type, yesNo(it.HasItems)})
		}
		return printTable(w, data)
	default:
		_, err := fmt.Fprintf(w, "%d %s\n", result.Count, result.Kind)
		return err
	}
}

func printSearch(w io.Writer, result core.SearchResult) error {
	sections := []struct {
		title string
		data  pterm.TableData
	}{
		{"Artists", artistRows(result.Artists)},
		{"Albums", albumRows(result.Albums)},
		{"Genres", genreRows(result.Genres)},
		{"Songs", songRows(result.Songs)},
	}
	for _, s := range sections {
		if _, err := fmt.Fprintf(w, "%s (%d)\n", s.title, len(s.data)-1); err != nil {
			return err
		}
		if len(s.data) == 1 {
			continue
		}
		if err := printTable(w, s.data); err != nil {
			return err
		}
	}
	return nil
}

func printWatch(w io.Writer, ev core.WatchEvent) error {
	st := ev.State
	track := "-"
	if st.Current != nil {
		track = describeSong(*st.Current)
	}
	_, err := fmt.Fprintf(w, "%-6s %s %s vol=%d %s\n", ev.Type, st.Player.Name, st.Status, st.Volume, track)
	return err
}

func artistRows(items []slim.Artist) pterm.TableData {
	data := pterm.TableData{{"NAME", "ID"}}
	for _, a := range items {
		data = append(data, []string{a.Name, a.ID})
	}
	return data
}

func albumRows(items []slim.Album) pterm.TableData {
	data := pterm.TableData{{"NAME", "ARTIST", "YEAR", "ID"}}
	for _, a := range items {
		data = append(data, []string{a.Name, a.Artist, yearString(a.Year), a.ID})
	}
	return data
}

func genreRows(items []slim.Genre) pterm.TableData {
	data := pterm.TableData{{"NAME", "ID"}}
	for _, g := range items {
		data = append(data, []string{g.Name, g.ID})
	}
	return data
}

func songRows(items []slim.Song) pterm.TableData {
	data := pterm.TableData{{"#", "TITLE", "ARTIST", "ALBUM", "LEN", "ID"}}
	for _, s := range items {
		num := ""
		if s.TrackNum > 0 {
			num = strconv.Itoa(s.TrackNum)
		}
		data = append(data, []string{num, s.Name, s.Artist, s.Album, clock(s.Duration), s.ID})
	}
	return data
}

func describeSong(s slim.Song) string {
	parts := []string{s.Name}
	if s.Artist != "" {
		parts = append(parts, s.Artist)
	}
	if s.Album != "" {
		parts = append(parts, s.Album)
	}
	return strings.Join(parts, " - ")
}

// clock formats seconds as m:ss, or h:mm:ss past an hour.
func clock(secs float64) string {
	if secs <= 0 {
		return "0:00"
	}
	total := int(secs)
	h, m, s := total/3600, total%3600/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func yearString(y int) string {
	if y == 0 {
		return ""
	}
	return strconv.Itoa(y)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
