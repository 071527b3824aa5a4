package slim

import (
	"fmt"
	"strconv"
)

// Batch is one fully parsed reply to an extended query command.
type Batch struct {
	Command        QueryCommand
	PlayerID       string
	Prefix         string
	Start          int
	PageSize       int // item count echoed from the request
	CorrelationID  int32
	HasCorrelation bool
	Rescan         bool
	Actions        int
	Counts         map[string]int
	Items          map[ResultType][]Record
	Params         Record
	Tagged         []string // raw tokens to re-send on continuation pages
}

// End is the offset following the page this batch answers.
func (b *Batch) End() int {
	return b.Start + b.PageSize
}

// Total returns the logical count for spec, with actions subtracted.
// ok is false when the reply carried no count for spec.
func (b *Batch) Total(spec ItemSpec) (int, bool) {
	count, ok := b.Counts[spec.CountKey]
	if !ok {
		return 0, false
	}
	count -= b.Actions
	if count < 0 {
		count = 0
	}
	return count, true
}

// ParseBatch decodes the tokens of a reply to cmd. Any malformed token
// fails the whole reply so that no partial batch is ever delivered.
func ParseBatch(cmd QueryCommand, tokens []string) (*Batch, error) {
	ofs := cmd.Offset()
	if len(tokens) < ofs+2 {
		return nil, fmt.Errorf("%w: short %q reply", ErrMalformedToken, cmd.Name)
	}

	b := &Batch{
		Command: cmd,
		Counts:  map[string]int{},
		Items:   map[ResultType][]Record{},
		Params:  Record{},
	}
	idx := 0
	if cmd.PlayerSpecific {
		id, err := Unescape(tokens[idx])
		if err != nil {
			return nil, fmt.Errorf("%w: player id %q", ErrMalformedToken, tokens[idx])
		}
		b.PlayerID = id
		idx++
	}
	if cmd.Prefixed {
		b.Prefix = tokens[idx]
	}

	start, err := strconv.Atoi(tokens[ofs])
	if err != nil {
		return nil, fmt.Errorf("%w: start %q", ErrMalformedToken, tokens[ofs])
	}
	pageSize, err := strconv.Atoi(tokens[ofs+1])
	if err != nil {
		return nil, fmt.Errorf("%w: count %q", ErrMalformedToken, tokens[ofs+1])
	}
	b.Start = start
	b.PageSize = pageSize

	var (
		record     Record
		recordType ResultType
	)
	flush := func() {
		if record != nil {
			b.Items[recordType] = append(b.Items[recordType], record)
		}
	}

	for _, raw := range tokens[ofs+2:] {
		tok, err := ParseTagged(raw)
		if err != nil {
			return nil, err
		}
		key, value := tok.Key, tok.Value

		switch {
		case key == "rescan":
			b.Rescan = atoi(value) != 0
		case key == CorrelationKey:
			id, err := strconv.ParseInt(value, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("%w: correlation id %q", ErrMalformedToken, value)
			}
			b.CorrelationID = int32(id)
			b.HasCorrelation = true
		case key == "actions":
			b.Actions++
		case cmd.IsCount(key):
			b.Counts[key] = atoi(value)
		case record == nil && cmd.IsTagged(key):
			b.Tagged = append(b.Tagged, raw)
		default:
			if spec, ok := cmd.ItemFor(key); ok {
				flush()
				record = Record{}
				recordType = spec.Type
			}
			if record != nil {
				record[key] = value
			} else {
				b.Params[key] = value
			}
		}
	}
	flush()
	return b, nil
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
