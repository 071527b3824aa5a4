package slim

import (
	"strconv"
	"strings"
)

// CorrelationKey tags outbound single commands so replies can be matched.
const CorrelationKey = "correlationid"

// Request is one page request of an extended query command.
type Request struct {
	PlayerID string
	Prefix   string
	Command  string
	Start    int
	Count    int
	Params   []string
}

// Line renders the request without a correlation tag.
func (r Request) Line() string {
	parts := make([]string, 0, 5+len(r.Params))
	if r.PlayerID != "" {
		parts = append(parts, Escape(r.PlayerID))
	}
	if r.Prefix != "" {
		parts = append(parts, r.Prefix)
	}
	parts = append(parts, r.Command, strconv.Itoa(r.Start), strconv.Itoa(r.Count))
	parts = append(parts, r.Params...)
	return strings.Join(parts, " ")
}

// CommandLine renders a player command. An empty playerID yields a global command.
func CommandLine(playerID string, words ...string) string {
	if playerID == "" {
		return strings.Join(words, " ")
	}
	return Escape(playerID) + " " + strings.Join(words, " ")
}

// WithCorrelation appends the correlation tag used on the single-command path.
func WithCorrelation(line string, id int32) string {
	return line + " " + CorrelationKey + ":" + strconv.FormatInt(int64(id), 10)
}

// Param renders an outbound key:value parameter with the value escaped.
func Param(key, value string) string {
	return key + ":" + Escape(value)
}
