package chatclient

import (
	"slices"
	"sync"
	"time"
)

const (
	// TypingIdle is how long a remote typing indicator survives without a
	// refresh.
	TypingIdle = 3 * time.Second
	// TypistIdle is how long the local user may pause before typing:stop is
	// sent.
	TypistIdle = 2 * time.Second
)

// TypingSet tracks who is typing in the open conversation.
type TypingSet struct {
	idle time.Duration
	now  func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewTypingSet(idle time.Duration) *TypingSet {
	return newTypingSet(idle, time.Now)
}

func newTypingSet(idle time.Duration, now func() time.Time) *TypingSet {
	if idle <= 0 {
		idle = TypingIdle
	}
	return &TypingSet{idle: idle, now: now, seen: make(map[string]time.Time)}
}

func (s *TypingSet) Start(name string) {
	if name == "" {
		return
	}
	s.mu.Lock()
	s.seen[name] = s.now()
	s.mu.Unlock()
}

func (s *TypingSet) Stop(name string) {
	s.mu.Lock()
	delete(s.seen, name)
	s.mu.Unlock()
}

func (s *TypingSet) Clear() {
	s.mu.Lock()
	clear(s.seen)
	s.mu.Unlock()
}

// Active returns the names still typing, sorted.
func (s *TypingSet) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	names := make([]string, 0, len(s.seen))
	for name, at := range s.seen {
		if now.Sub(at) >= s.idle {
			delete(s.seen, name)
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Typist turns local keystrokes into typing:start and typing:stop. The first
// keystroke starts typing; the stop follows TypistIdle after the last
// keystroke, or immediately on Sent.
type Typist struct {
	idle time.Duration
	emit func(typing bool)

	mu     sync.Mutex
	active bool
	timer  *time.Timer
	gen    int
}

func NewTypist(idle time.Duration, emit func(typing bool)) *Typist {
	if idle <= 0 {
		idle = TypistIdle
	}
	return &Typist{idle: idle, emit: emit}
}

func (t *Typist) Keystroke() {
	t.mu.Lock()
	start := !t.active
	t.active = true
	t.gen++
	gen := t.gen
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.idle, func() { t.expire(gen) })
	t.mu.Unlock()

	if start {
		t.emit(true)
	}
}

// Sent stops typing right away.
func (t *Typist) Sent() {
	t.stop()
}

// Close stops the idle timer, sending typing:stop if typing was active.
func (t *Typist) Close() {
	t.stop()
}

func (t *Typist) expire(gen int) {
	t.mu.Lock()
	if gen != t.gen || !t.active {
		t.mu.Unlock()
		return
	}
	t.active = false
	t.timer = nil
	t.mu.Unlock()

	t.emit(false)
}

func (t *Typist) stop() {
	t.mu.Lock()
	wasActive := t.active
	t.active = false
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()

	if wasActive {
		t.emit(false)
	}
}
