package main

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter keeps one status line updated with the current phase and
// elapsed (or remaining) seconds.
//
//	p := NewProgressPrinter(w, "Connecting to headlight", "connecting", "loaded", "failed")
//	p.Start()
//	defer p.Stop()
//
// A ProgressPrinter is single-use. Setting one of its stop phases through
// Callback stops it early.
type ProgressPrinter struct {
	w          io.Writer
	prefix     string
	phase      atomic.Value // string
	stopPhases map[string]struct{}
	countdown  time.Duration

	startTime time.Time
	started   atomic.Bool
	stopOnce  sync.Once
	stopChan  chan struct{}
	done      chan struct{}
}

// NewProgressPrinter creates a progress printer that counts up.
func NewProgressPrinter(w io.Writer, prefix, phase string, stopPhases ...string) *ProgressPrinter {
	p := &ProgressPrinter{
		w:          w,
		prefix:     prefix,
		stopPhases: make(map[string]struct{}, len(stopPhases)),
		stopChan:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, s := range stopPhases {
		p.stopPhases[s] = struct{}{}
	}
	p.phase.Store(phase)
	return p
}

// NewCountdownProgressPrinter creates a progress printer that counts down
// from d.
func NewCountdownProgressPrinter(w io.Writer, prefix, phase string, d time.Duration, stopPhases ...string) *ProgressPrinter {
	p := NewProgressPrinter(w, prefix, phase, stopPhases...)
	p.countdown = d
	return p
}

// Start begins updating the line. Panics if called twice.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}
	p.startTime = time.Now()
	p.print(p.phase.Load().(string), 0)

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				phase := p.phase.Load().(string)
				if _, stop := p.stopPhases[phase]; stop {
					return
				}
				p.print(phase, p.seconds())
			}
		}
	}()
}

func (p *ProgressPrinter) seconds() int {
	elapsed := time.Since(p.startTime)
	if p.countdown == 0 {
		return int(elapsed.Seconds())
	}
	remaining := p.countdown - elapsed
	if remaining <= 0 {
		return 0
	}
	// Round to the nearest second.
	return int(remaining.Seconds() + 0.5)
}

func (p *ProgressPrinter) print(phase string, seconds int) {
	if seconds > 0 {
		fmt.Fprintf(p.w, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Fprintf(p.w, "\r%s (%s...)   ", p.prefix, phase)
	}
}

// Callback returns a phase setter suitable as a controller.ProgressCallback.
// Safe for concurrent use.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
		if _, stop := p.stopPhases[phase]; stop {
			p.Stop()
		}
	}
}

// Stop ends the updates and clears the line. Safe to call more than once.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
		if p.started.Load() {
			<-p.done
		}
		fmt.Fprint(p.w, clearLineSequence)
	})
}
