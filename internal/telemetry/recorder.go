// Package telemetry keeps process-wide counters for cache efficiency, store
// traffic and load times. It is a pure side channel: nothing here may fail or
// slow down the operation being measured.
package telemetry

import (
	"log"
	"sync"
	"time"
)

// Snapshot is a copy of the counters at one point in time.
type Snapshot struct {
	CacheHits     int64                    `json:"cache_hits"`
	CacheMisses   int64                    `json:"cache_misses"`
	HitRate       float64                  `json:"hit_rate"`
	APICalls      int64                    `json:"api_calls"`
	Errors        int64                    `json:"errors"`
	Retries       int64                    `json:"retries"`
	TabSwitches   int64                    `json:"tab_switches"`
	LoadDurations map[string]time.Duration `json:"load_durations"`
}

// Recorder accumulates counters and notifies subscribers after each change.
type Recorder struct {
	mu        sync.Mutex
	snap      Snapshot
	observers map[int]func(Snapshot)
	nextObs   int
}

// NewRecorder returns a zeroed recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		snap:      Snapshot{LoadDurations: map[string]time.Duration{}},
		observers: map[int]func(Snapshot){},
	}
}

func (r *Recorder) update(fn func(s *Snapshot)) {
	if r == nil {
		return
	}
	r.mu.Lock()
	fn(&r.snap)
	total := r.snap.CacheHits + r.snap.CacheMisses
	if total > 0 {
		r.snap.HitRate = float64(r.snap.CacheHits) / float64(total)
	} else {
		r.snap.HitRate = 0
	}
	snap := r.copyLocked()
	observers := make([]func(Snapshot), 0, len(r.observers))
	for _, fn := range r.observers {
		observers = append(observers, fn)
	}
	r.mu.Unlock()

	for _, fn := range observers {
		notify(fn, snap)
	}
}

func notify(fn func(Snapshot), snap Snapshot) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("WARNING: telemetry observer panicked: %v", p)
		}
	}()
	fn(snap)
}

func (r *Recorder) copyLocked() Snapshot {
	s := r.snap
	s.LoadDurations = make(map[string]time.Duration, len(r.snap.LoadDurations))
	for k, v := range r.snap.LoadDurations {
		s.LoadDurations[k] = v
	}
	return s
}

// CacheHit implements cache.Observer.
func (r *Recorder) CacheHit(string) { r.update(func(s *Snapshot) { s.CacheHits++ }) }

// CacheMiss implements cache.Observer.
func (r *Recorder) CacheMiss(string) { r.update(func(s *Snapshot) { s.CacheMisses++ }) }

func (r *Recorder) RecordAPICall()   { r.update(func(s *Snapshot) { s.APICalls++ }) }
func (r *Recorder) RecordError()     { r.update(func(s *Snapshot) { s.Errors++ }) }
func (r *Recorder) RecordRetry()     { r.update(func(s *Snapshot) { s.Retries++ }) }
func (r *Recorder) RecordTabSwitch() { r.update(func(s *Snapshot) { s.TabSwitches++ }) }

// RecordLoad stores the latest duration of a load phase.
func (r *Recorder) RecordLoad(phase string, d time.Duration) {
	r.update(func(s *Snapshot) { s.LoadDurations[phase] = d })
}

// Time starts a load measurement; call the returned func when the phase ends.
func (r *Recorder) Time(phase string) func() {
	start := time.Now()
	return func() { r.RecordLoad(phase, time.Since(start)) }
}

// Snapshot returns a copy of the current counters.
func (r *Recorder) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{LoadDurations: map[string]time.Duration{}}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyLocked()
}

// Subscribe registers fn for every change. The returned func cancels.
func (r *Recorder) Subscribe(fn func(Snapshot)) (cancel func()) {
	r.mu.Lock()
	r.nextObs++
	id := r.nextObs
	r.observers[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.observers, id)
		r.mu.Unlock()
	}
}

// Reset zeroes every counter and duration. Subscribers are kept and notified.
func (r *Recorder) Reset() {
	r.update(func(s *Snapshot) {
		*s = Snapshot{LoadDurations: map[string]time.Duration{}}
	})
}
