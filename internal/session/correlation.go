package session

import (
	"sync"

	"github.com/bradfitz/android-squeezer-sub002/pkg/slim"
)

// Tracker hands out correlation ids and remembers per-command and per-type
// cutoffs below which replies are obsolete.
type Tracker struct {
	mu        sync.Mutex
	next      int32
	byCommand map[string]int32
	byType    map[slim.ResultType]int32
}

// NewTracker returns a tracker whose first id is 0.
func NewTracker() *Tracker {
	return &Tracker{
		byCommand: map[string]int32{},
		byType:    map[slim.ResultType]int32{},
	}
}

// NextID returns the current counter value and advances it.
func (t *Tracker) NextID() int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.next
	t.next++
	return id
}

// Peek returns the id the next call to NextID will hand out.
func (t *Tracker) Peek() int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.next
}

// CancelCommand marks every id issued so far for name as obsolete.
func (t *Tracker) CancelCommand(name string) int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byCommand[name] = t.next
	return t.next
}

// CancelType marks every id issued so far as obsolete for result type rt.
func (t *Tracker) CancelType(rt slim.ResultType) int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byType[rt] = t.next
	return t.next
}

// AcceptsCommand reports whether a reply to name tagged id is still current.
func (t *Tracker) AcceptsCommand(name string, id int32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff, ok := t.byCommand[name]
	return !ok || id >= cutoff
}

// AcceptsType reports whether items of rt from a reply tagged id are still current.
func (t *Tracker) AcceptsType(rt slim.ResultType, id int32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff, ok := t.byType[rt]
	return !ok || id >= cutoff
}
