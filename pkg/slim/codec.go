package slim

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// DefaultPort is the CLI port of a SqueezeCenter compatible server.
const DefaultPort = 9090

// TagSeparator separates key and value inside a tagged token.
const TagSeparator = "%3A"

// ErrMalformedToken is returned when a tagged token has no separator.
var ErrMalformedToken = errors.New("malformed token")

// Record is one decoded key/value record.
type Record map[string]string

// Token is a single space-delimited element of a CLI line.
type Token struct {
	Raw    string
	Key    string
	Value  string
	Tagged bool
}

// Escape percent-encodes s for the CLI. Spaces become %20, never '+'.
func Escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// Unescape decodes one level of percent-encoding.
func Unescape(s string) (string, error) {
	return url.PathUnescape(s)
}

// Tokens splits a CLI line into raw tokens.
func Tokens(line string) []string {
	return strings.Fields(line)
}

// ParseToken splits raw on the first %3A and decodes both halves.
// A token without a separator is returned as a bare value.
func ParseToken(raw string) (Token, error) {
	idx := strings.Index(raw, TagSeparator)
	if idx < 0 {
		value, err := Unescape(raw)
		if err != nil {
			return Token{}, fmt.Errorf("%w: %q: %v", ErrMalformedToken, raw, err)
		}
		return Token{Raw: raw, Value: value}, nil
	}
	key, err := Unescape(raw[:idx])
	if err != nil {
		return Token{}, fmt.Errorf("%w: %q: %v", ErrMalformedToken, raw, err)
	}
	value, err := Unescape(raw[idx+len(TagSeparator):])
	if err != nil {
		return Token{}, fmt.Errorf("%w: %q: %v", ErrMalformedToken, raw, err)
	}
	return Token{Raw: raw, Key: key, Value: value, Tagged: true}, nil
}

// ParseTagged is ParseToken for positions where only tagged tokens are valid.
func ParseTagged(raw string) (Token, error) {
	if !strings.Contains(raw, TagSeparator) {
		return Token{}, fmt.Errorf("%w: expected tag in %q", ErrMalformedToken, raw)
	}
	return ParseToken(raw)
}

// EncodeTag renders key:value as a wire token.
func EncodeTag(key, value string) string {
	return Escape(key) + TagSeparator + Escape(value)
}

// EncodeRecord renders a record as space separated tagged tokens, keys sorted.
func EncodeRecord(rec Record) string {
	keys := make([]string, 0, len(rec))
	for key := range rec {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, EncodeTag(key, rec[key]))
	}
	return strings.Join(parts, " ")
}

// DecodeRecord parses a line made only of tagged tokens.
func DecodeRecord(line string) (Record, error) {
	rec := Record{}
	for _, raw := range Tokens(line) {
		tok, err := ParseTagged(raw)
		if err != nil {
			return nil, err
		}
		rec[tok.Key] = tok.Value
	}
	return rec, nil
}
