// Package progress reports what a mirror walk is doing. The walk is a single
// pass over the remote tree, so there are no totals up front; counters only grow.
package progress

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Reporter receives walk events. Calls come from the walking goroutine,
// one file at a time.
type Reporter interface {
	// EnterDir is called before a remote directory is listed
	EnterDir(path string)
	// Start is called before a file is fetched; size comes from the listing
	Start(path string, size int64)
	// Update reports the bytes of the current file read so far
	Update(read int64)
	// Complete marks the current file as written locally
	Complete()
	// Error reports that the current file could not be fetched
	Error(err error)
}

// Kind says which Reporter call produced an Event
type Kind int

const (
	KindDir Kind = iota
	KindStart
	KindProgress
	KindDone
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindDir:
		return "dir"
	case KindStart:
		return "start"
	case KindProgress:
		return "progress"
	case KindDone:
		return "done"
	case KindError:
		return "error"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Totals are the counters of a walk so far
type Totals struct {
	Dirs  int
	Files int
	Bytes int64
}

// Event is the state of the walk after one Reporter call
type Event struct {
	Kind Kind
	Dir  string
	File string
	// Read is how much of File has been read, Size what the listing announced
	Read int64
	Size int64
	// Rate is the transfer rate of File in bytes per second
	Rate   float64
	Totals Totals
	Err    error
}

// Tracker turns Reporter calls into Events for a callback
type Tracker struct {
	fn func(Event)
	// every throttles KindProgress events; zero forwards all of them
	every time.Duration

	mu       sync.Mutex
	cur      Event
	started  time.Time
	lastTick time.Time
}

// NewTracker creates a Tracker calling fn after every event
func NewTracker(fn func(Event)) *Tracker {
	return &Tracker{fn: fn}
}

// Throttle limits KindProgress events to one per d for each file
func (t *Tracker) Throttle(d time.Duration) *Tracker {
	t.every = d
	return t
}

// Totals returns the counters so far
func (t *Tracker) Totals() Totals {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cur.Totals
}

// record applies change under the lock, then calls fn outside it so the
// callback may call back into the Tracker
func (t *Tracker) record(kind Kind, change func(now time.Time) bool) {
	now := time.Now()

	t.mu.Lock()
	if !change(now) {
		t.mu.Unlock()
		return
	}
	ev := t.cur
	ev.Kind = kind
	if elapsed := now.Sub(t.started).Seconds(); kind != KindDir && elapsed > 0 {
		ev.Rate = float64(ev.Read) / elapsed
	}
	t.cur.Err = nil
	t.mu.Unlock()

	if t.fn != nil {
		t.fn(ev)
	}
}

func (t *Tracker) EnterDir(path string) {
	t.record(KindDir, func(time.Time) bool {
		t.cur.Dir = path
		t.cur.Totals.Dirs++
		return true
	})
}

func (t *Tracker) Start(path string, size int64) {
	t.record(KindStart, func(now time.Time) bool {
		t.cur.File, t.cur.Size, t.cur.Read = path, size, 0
		t.started, t.lastTick = now, now
		return true
	})
}

func (t *Tracker) Update(read int64) {
	t.record(KindProgress, func(now time.Time) bool {
		t.cur.Read = read
		if t.every > 0 && now.Sub(t.lastTick) < t.every {
			return false
		}
		t.lastTick = now
		return true
	})
}

// Complete counts the bytes actually read, not the size the listing announced
func (t *Tracker) Complete() {
	t.record(KindDone, func(time.Time) bool {
		t.cur.Totals.Files++
		t.cur.Totals.Bytes += t.cur.Read
		return true
	})
}

func (t *Tracker) Error(err error) {
	t.record(KindError, func(time.Time) bool {
		t.cur.Err = err
		return true
	})
}

// Reader reports the bytes read through it to a Reporter
type Reader struct {
	r    io.Reader
	rep  Reporter
	read int64
}

// NewReader wraps r; a nil rep only counts
func NewReader(r io.Reader, rep Reporter) *Reader {
	return &Reader{r: r, rep: rep}
}

func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.read += int64(n)
		if r.rep != nil {
			r.rep.Update(r.read)
		}
	}
	return n, err
}

// N returns the number of bytes read so far
func (r *Reader) N() int64 {
	return r.read
}

type discard struct{}

func (discard) EnterDir(string)     {}
func (discard) Start(string, int64) {}
func (discard) Update(int64)        {}
func (discard) Complete()           {}
func (discard) Error(error)         {}

// Discard is a Reporter that ignores every event
var Discard Reporter = discard{}

// FormatBytes renders n with a binary unit, e.g. "1.5 MB"
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 3; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGT"[exp])
}

// FormatSpeed renders a byte rate, e.g. "2.0 MB/s"
func FormatSpeed(bytesPerSecond float64) string {
	return FormatBytes(int64(bytesPerSecond)) + "/s"
}
