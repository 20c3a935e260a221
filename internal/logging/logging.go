// Package logging wraps the standard library logger with the bracketed
// component-tag convention used throughout the codebase (e.g. "[claudews] ...")
// and a per-key rate limiter for the high-volume protocol-error path.
package logging

import (
	"log"
	"sync"
	"time"
)

// Logger prefixes every line with a bracketed tag.
type Logger struct {
	tag string
}

// New returns a Logger tagged with the given component name.
func New(tag string) *Logger {
	return &Logger{tag: "[" + tag + "] "}
}

func (l *Logger) Printf(format string, args ...any) {
	log.Printf(l.tag+format, args...)
}

func (l *Logger) Println(args ...any) {
	log.Println(append([]any{l.tag}, args...)...)
}

// RateLimited logs at most once per window for a given key, used to avoid
// flooding logs with repeated protocol errors from the same peer (spec.md §7
// kind 3: "log once per session per minute").
type RateLimited struct {
	mu     sync.Mutex
	log    *Logger
	window time.Duration
	last   map[string]time.Time
}

// NewRateLimited builds a rate-limited logger with the given window.
func NewRateLimited(tag string, window time.Duration) *RateLimited {
	return &RateLimited{
		log:    New(tag),
		window: window,
		last:   make(map[string]time.Time),
	}
}

// Allow reports whether a message for key should be emitted now, and records
// the attempt either way.
func (r *RateLimited) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if last, ok := r.last[key]; ok && now.Sub(last) < r.window {
		return false
	}
	r.last[key] = now
	return true
}

// Printf logs format/args for key if the rate limit allows it.
func (r *RateLimited) Printf(key, format string, args ...any) {
	if r.Allow(key) {
		r.log.Printf(format, args...)
	}
}
