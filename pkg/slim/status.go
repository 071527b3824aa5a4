package slim

import "fmt"

// TrackDelimiter starts a track record inside a status reply.
const TrackDelimiter = "playlist index"

// Status is a decoded "<player> status" reply or notification.
type Status struct {
	PlayerID string
	Params   Record
	Tracks   []Record
}

// CurrentTrack returns the first track record, if any.
func (s Status) CurrentTrack() (Record, bool) {
	if len(s.Tracks) == 0 {
		return nil, false
	}
	return s.Tracks[0], true
}

// ParseStatus decodes "<player> status <start> <count> tag:value...".
// Positional tokens after the command are skipped; everything else must be tagged.
func ParseStatus(tokens []string) (Status, error) {
	if len(tokens) < 2 || tokens[1] != "status" {
		return Status{}, fmt.Errorf("%w: not a status reply", ErrMalformedToken)
	}
	id, err := Unescape(tokens[0])
	if err != nil {
		return Status{}, fmt.Errorf("%w: player id %q", ErrMalformedToken, tokens[0])
	}
	st := Status{PlayerID: id, Params: Record{}}

	rest := tokens[2:]
	for skipped := 0; skipped < 2 && len(rest) > 0; skipped++ {
		tok, err := ParseToken(rest[0])
		if err != nil || tok.Tagged {
			break
		}
		rest = rest[1:]
	}

	var track Record
	for _, raw := range rest {
		tok, err := ParseTagged(raw)
		if err != nil {
			return Status{}, err
		}
		if tok.Key == TrackDelimiter {
			if track != nil {
				st.Tracks = append(st.Tracks, track)
			}
			track = Record{}
		}
		if track != nil {
			track[tok.Key] = tok.Value
		} else {
			st.Params[tok.Key] = tok.Value
		}
	}
	if track != nil {
		st.Tracks = append(st.Tracks, track)
	}
	return st, nil
}
