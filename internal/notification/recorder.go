package notification

import "sync"

// Recorder keeps every notice in memory. Useful as a sink in tests and dry runs.
type Recorder struct {
	mu        sync.Mutex
	announced []Notice
	live      []Notice
}

func (r *Recorder) Announce(eventID string, n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n.EventID = eventID
	r.announced = append(r.announced, n)
}

func (r *Recorder) UpdateLiveState(eventID string, n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n.EventID = eventID
	n.Live = true
	r.live = append(r.live, n)
}

func (r *Recorder) Announced() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.announced...)
}

// AnnouncedOfType filters announcements by type.
func (r *Recorder) AnnouncedOfType(typ string) []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notice
	for _, n := range r.announced {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

func (r *Recorder) LiveStates() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.live...)
}
