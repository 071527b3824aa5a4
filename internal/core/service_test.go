package core

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/bradfitz/android-squeezer-sub002/internal/adapters/clock"
	"github.com/bradfitz/android-squeezer-sub002/internal/session"
	"github.com/bradfitz/android-squeezer-sub002/pkg/slim"
	"go.uber.org/zap"
)

// fakeLMS answers list and status requests on the server end of a pipe.
type fakeLMS struct {
	lists    map[string][]slim.Record
	commands chan string
}

func (f *fakeLMS) DialContext(ctx context.Context, _, _ string) (net.Conn, error) {
	client, server := net.Pipe()
	go f.serve(server)
	return client, nil
}

func (f *fakeLMS) serve(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		var reply string
		if strings.Contains(fields[0], "%3A") {
			reply = f.playerReply(fields)
		} else {
			reply = f.listReply(fields)
		}
		if reply != "" {
			if _, err := fmt.Fprintln(conn, reply); err != nil {
				return
			}
		}
	}
}

func (f *fakeLMS) playerReply(fields []string) string {
	if len(fields) > 1 && fields[1] == "status" {
		return fields[0] + " status - 1 player_name%3AKitchen mode%3Aplay power%3A1 mixer%20volume%3A50 time%3A10" +
			" duration%3A100 playlist_tracks%3A1 playlist%20index%3A0 id%3A7 title%3ATrack%20One artist%3AX"
	}
	select {
	case f.commands <- strings.Join(fields, " "):
	default:
	}
	return ""
}

// listReply pages through f.lists. Commands with several item types read
// each type from the list named "<command> <delimiter>".
func (f *fakeLMS) listReply(fields []string) string {
	name := fields[0]
	rest := fields[1:]
	if len(fields) > 1 && fields[0] == "playlists" && fields[1] == "tracks" {
		name = "playlists tracks"
		rest = fields[2:]
	}
	cmd, ok := slim.LookupQuery(name)
	if !ok || len(rest) < 2 {
		return ""
	}
	if _, ok := f.lists[name]; !ok && len(cmd.Items) == 1 {
		return ""
	}
	start, _ := strconv.Atoi(rest[0])
	count, _ := strconv.Atoi(rest[1])

	parts := []string{name, rest[0], rest[1]}
	corr := ""
	for _, p := range rest[2:] {
		if id, ok := strings.CutPrefix(p, "correlationid:"); ok {
			corr = id
			continue
		}
		parts = append(parts, strings.Replace(p, ":", "%3A", 1))
	}
	for _, spec := range cmd.Items {
		records := f.lists[name]
		if len(cmd.Items) > 1 {
			records = f.lists[name+" "+spec.Delimiter]
		}
		parts = append(parts, fmt.Sprintf("%s%%3A%d", spec.CountKey, len(records)))
		for i := start; i < min(start+count, len(records)); i++ {
			parts = append(parts, slim.EncodeTag(spec.Delimiter, records[i][spec.Delimiter]))
			for k, v := range records[i] {
				if k != spec.Delimiter {
					parts = append(parts, slim.EncodeTag(k, v))
				}
			}
		}
	}
	if corr != "" {
		parts = append(parts, "correlationid%3A"+corr)
	}
	return strings.Join(parts, " ")
}

func newTestService(t *testing.T, cfg Config) (Service, *fakeLMS) {
	t.Helper()
	albums := make([]slim.Record, 0, 7)
	for i := 0; i < 7; i++ {
		albums = append(albums, slim.Record{"id": strconv.Itoa(i), "album": fmt.Sprintf("Album %d", i)})
	}
	songs := make([]slim.Record, 0, 5)
	for i := 0; i < 5; i++ {
		songs = append(songs, slim.Record{"track_id": strconv.Itoa(100 + i), "track": fmt.Sprintf("Blue %d", i)})
	}
	lms := &fakeLMS{
		lists: map[string][]slim.Record{
			"players": {
				{"playerid": "aa:bb", "name": "Kitchen", "connected": "1"},
				{"playerid": "cc:dd", "name": "Den", "connected": "1"},
			},
			"albums": albums,
			"search genre_id": {{"genre_id": "3", "genre": "Blues"}},
			"search album_id": {
				{"album_id": "11", "album": "Kind of Blue"},
				{"album_id": "12", "album": "Blue Train"},
			},
			"search track_id": songs,
		},
		commands: make(chan string, 16),
	}
	c := clock.NewManual(time.Unix(1700000000, 0))
	sess := session.New(session.Options{
		Logger:   zap.NewNop(),
		Clock:    c,
		Dialer:   lms,
		PageSize: 3,
	})
	t.Cleanup(sess.Disconnect)
	svc := Service{Session: sess, Clock: c, Config: cfg}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := svc.Connect(ctx, "lms.test"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return svc, lms
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestConnectRequiresServer(t *testing.T) {
	svc := Service{Session: session.New(session.Options{})}
	if err := svc.Connect(context.Background(), ""); ExitCode(err) != ExitUsage {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestServiceListAlbumsPagesThrough(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	result, err := svc.List(testContext(t), ListRequest{Kind: "albums"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	albums, ok := result.Items.([]slim.Album)
	if !ok || result.Count != 7 || len(albums) != 7 {
		t.Fatalf("unexpected result %+v", result)
	}
	if albums[6].Name != "Album 6" {
		t.Fatalf("unexpected last album %+v", albums[6])
	}
}

func TestServiceListRejectsBadRequests(t *testing.T) {
	svc := Service{Session: session.New(session.Options{})}
	cases := []ListRequest{
		{Kind: "widgets"},
		{Kind: "years", ArtistID: "1"},
		{Kind: "items"},
		{Kind: "tracks"},
	}
	for _, req := range cases {
		if _, err := svc.List(context.Background(), req); ExitCode(err) != ExitUsage {
			t.Fatalf("list %+v: expected usage error, got %v", req, err)
		}
	}
}

func TestServiceSearchCountsEachType(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	result, err := svc.Search(testContext(t), "  blue ")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if result.Term != "blue" {
		t.Fatalf("unexpected term %q", result.Term)
	}
	if len(result.Genres) != 1 || len(result.Albums) != 2 || len(result.Artists) != 0 || len(result.Songs) != 5 {
		t.Fatalf("unexpected counts genres=%d albums=%d artists=%d songs=%d",
			len(result.Genres), len(result.Albums), len(result.Artists), len(result.Songs))
	}
	if result.Albums[1].Name != "Blue Train" || result.Songs[4].ID != "104" || result.Genres[0].Name != "Blues" {
		t.Fatalf("unexpected items %+v", result)
	}
}

func TestServiceSearchRequiresTerm(t *testing.T) {
	svc := Service{Session: session.New(session.Options{})}
	if _, err := svc.Search(context.Background(), " "); ExitCode(err) != ExitUsage {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestServiceStatusSelectsPlayer(t *testing.T) {
	svc, _ := newTestService(t, Config{Aliases: map[string]string{"den": "cc:dd"}})
	result, err := svc.Status(testContext(t), "den")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if result.Player.ID != "cc:dd" || result.State.Current == nil || result.State.Current.Name != "Track One" {
		t.Fatalf("unexpected status %+v", result)
	}
	if result.State.Volume != 50 || !result.State.Playing() || result.Elapsed < 10 {
		t.Fatalf("unexpected state %+v", result.State)
	}
}

func TestServiceControlSendsCommand(t *testing.T) {
	svc, lms := newTestService(t, Config{Player: "Kitchen"})
	ok, err := svc.Control(testContext(t), "", Command{Type: "volume", Value: "+5"})
	if err != nil {
		t.Fatalf("control: %v", err)
	}
	if ok.Player != "Kitchen" {
		t.Fatalf("unexpected player %q", ok.Player)
	}
	select {
	case line := <-lms.commands:
		if !strings.HasPrefix(line, "aa%3Abb mixer volume +5 correlationid:") {
			t.Fatalf("unexpected command %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("command not received")
	}
}

func TestServiceLoadValidatesKind(t *testing.T) {
	svc := Service{Session: session.New(session.Options{})}
	if _, err := svc.Load(context.Background(), "", session.PlaylistLoad, "widget", "1"); ExitCode(err) != ExitUsage {
		t.Fatalf("expected usage error, got %v", err)
	}
}
