package main

import (
	"fmt"
	"io"
	"sync"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter shows a countdown on one terminal line while a timed
// command runs.
type ProgressPrinter struct {
	w        io.Writer
	prefix   string
	duration time.Duration
	count    func() int

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

// NewProgressPrinter counts down from duration. count, when set, is shown
// as the number of host events seen so far.
func NewProgressPrinter(w io.Writer, prefix string, duration time.Duration, count func() int) *ProgressPrinter {
	return &ProgressPrinter{
		w:        w,
		prefix:   prefix,
		duration: duration,
		count:    count,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (p *ProgressPrinter) Start() {
	start := time.Now()
	go func() {
		defer close(p.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()
		for {
			p.print(p.duration - time.Since(start))
			select {
			case <-p.stop:
				fmt.Fprint(p.w, clearLineSequence)
				return
			case <-ticker.C:
			}
		}
	}()
}

func (p *ProgressPrinter) print(remaining time.Duration) {
	if remaining < 0 {
		remaining = 0
	}
	events := ""
	if p.count != nil {
		events = fmt.Sprintf(", %d events", p.count())
	}
	fmt.Fprintf(p.w, "\r%s (%ds left%s)   ", p.prefix, int(remaining.Seconds()+0.5), events)
}

// Stop clears the line and waits for the printer goroutine. It is safe to
// call more than once.
func (p *ProgressPrinter) Stop() {
	p.once.Do(func() { close(p.stop) })
	<-p.done
}
