package session

import (
	"sync"
	"time"
)

// Entry は参加者ごとの購入口数
type Entry struct {
	ParticipantID string    `json:"participant_id"`
	Count         int       `json:"count"`
	LastActionAt  time.Time `json:"last_action_at"`
}

// Admission is the result of one accepted request.
type Admission struct {
	Count     int  `json:"count"`
	Duplicate bool `json:"duplicate"`
}

// EntryRegistry owns per-participant entry counts for one session.
type EntryRegistry struct {
	mu        sync.Mutex
	cap       int
	entries   map[string]*Entry
	order     []string
	processed map[string]Admission
	total     int
	frozen    bool
}

func NewEntryRegistry(capPerParticipant int) *EntryRegistry {
	if capPerParticipant < 1 {
		capPerParticipant = 1
	}
	return &EntryRegistry{
		cap:       capPerParticipant,
		entries:   make(map[string]*Entry),
		processed: make(map[string]Admission),
	}
}

func requestKey(participantID, requestID string) string {
	return participantID + "\x00" + requestID
}

// TryAdmit atomically checks the cap and increments the participant's count.
// A repeated non-empty requestID returns the earlier admission unchanged, even after Freeze.
func (r *EntryRegistry) TryAdmit(participantID, requestID string, now time.Time) (Admission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.lookupLocked(participantID, requestID); ok {
		return prev, nil
	}

	if r.frozen {
		return Admission{}, ErrSessionClosed
	}

	e, ok := r.entries[participantID]
	if ok && e.Count >= r.cap {
		return Admission{}, ErrCapReached
	}
	if !ok {
		e = &Entry{ParticipantID: participantID}
		r.entries[participantID] = e
		r.order = append(r.order, participantID)
	}

	e.Count++
	e.LastActionAt = now
	r.total++

	adm := Admission{Count: e.Count}
	if requestID != "" {
		r.processed[requestKey(participantID, requestID)] = adm
	}
	return adm, nil
}

// Lookup returns the earlier admission for a processed (participantID, requestID).
func (r *EntryRegistry) Lookup(participantID, requestID string) (Admission, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookupLocked(participantID, requestID)
}

func (r *EntryRegistry) lookupLocked(participantID, requestID string) (Admission, bool) {
	if requestID == "" {
		return Admission{}, false
	}
	prev, ok := r.processed[requestKey(participantID, requestID)]
	if !ok {
		return Admission{}, false
	}
	prev.Duplicate = true
	return prev, true
}

// Freeze rejects every later admission and returns the final counts.
func (r *EntryRegistry) Freeze() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.frozen = true
	return r.countsLocked()
}

func (r *EntryRegistry) countsLocked() map[string]int {
	counts := make(map[string]int, len(r.entries))
	for id, e := range r.entries {
		counts[id] = e.Count
	}
	return counts
}

// Entries returns a copy in first-arrival order.
func (r *EntryRegistry) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.entries[id])
	}
	return out
}

// Participants returns participant ids in first-arrival order.
func (r *EntryRegistry) Participants() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func (r *EntryRegistry) Count(participantID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[participantID]; ok {
		return e.Count
	}
	return 0
}

func (r *EntryRegistry) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}
