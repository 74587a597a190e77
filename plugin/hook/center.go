package hook

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrInterrupt signals that a handler wants to stop further processing.
// Before* events treat it as a veto.
var ErrInterrupt = errors.New("hook interrupted")

// HookFn is a hook handler.
// Returns (modified data, nil) to continue, or (data, ErrInterrupt) to stop.
type HookFn func(ctx context.Context, event string, data interface{}) (interface{}, error)

type hookEntry struct {
	priority int
	fn       HookFn
	name     string
}

// HookCenter manages event hook registrations.
type HookCenter struct {
	mu    sync.RWMutex
	hooks map[string][]*hookEntry
}

// NewHookCenter creates a new HookCenter.
func NewHookCenter() *HookCenter {
	return &HookCenter{hooks: make(map[string][]*hookEntry)}
}

// Register adds fn for event with the given priority (lower runs first).
// Handlers of equal priority run in registration order.
func (hc *HookCenter) Register(event string, priority int, name string, fn HookFn) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	entries := append(hc.hooks[event], &hookEntry{priority: priority, fn: fn, name: name})
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].priority < entries[j].priority
	})
	hc.hooks[event] = entries
}

// Unregister removes all hooks with the given name for the given event.
func (hc *HookCenter) Unregister(event, name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.hooks[event] = without(hc.hooks[event], name)
}

// UnregisterAll removes all hooks registered under name across all events.
func (hc *HookCenter) UnregisterAll(name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	for event, entries := range hc.hooks {
		hc.hooks[event] = without(entries, name)
	}
}

func without(entries []*hookEntry, name string) []*hookEntry {
	n := 0
	for _, e := range entries {
		if e.name != name {
			entries[n] = e
			n++
		}
	}
	return entries[:n]
}

// Has reports whether any handler is registered for event.
func (hc *HookCenter) Has(event string) bool {
	if hc == nil {
		return false
	}
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return len(hc.hooks[event]) > 0
}

func (hc *HookCenter) snapshot(event string) []*hookEntry {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	entries := make([]*hookEntry, len(hc.hooks[event]))
	copy(entries, hc.hooks[event])
	return entries
}

// Trigger runs the handlers for event in priority order, threading data
// through each. It stops at the first ErrInterrupt and returns it; other
// handler errors are ignored. A nil HookCenter passes data through.
func (hc *HookCenter) Trigger(ctx context.Context, event string, data interface{}) (interface{}, error) {
	if hc == nil {
		return data, nil
	}
	var err error
	for _, e := range hc.snapshot(event) {
		data, err = e.fn(ctx, event, data)
		if errors.Is(err, ErrInterrupt) {
			return data, err
		}
	}
	return data, nil
}

// Fire runs every handler for event after the fact: interrupts do not stop
// the chain and a panicking handler is recovered. It returns the errors
// handlers reported, joined.
func (hc *HookCenter) Fire(ctx context.Context, event string, data interface{}) error {
	if hc == nil {
		return nil
	}
	var errs []error
	for _, e := range hc.snapshot(event) {
		if err := call(ctx, e, event, data); err != nil && !errors.Is(err, ErrInterrupt) {
			errs = append(errs, fmt.Errorf("hook %s: %w", e.name, err))
		}
	}
	return errors.Join(errs...)
}

func call(ctx context.Context, e *hookEntry, event string, data interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	_, err = e.fn(ctx, event, data)
	return err
}

// ---- Hook event names ----

const (
	// BeforeMailSend runs after validation and before the message is
	// stored. ErrInterrupt rejects the send.
	BeforeMailSend = "before_mail_send"

	OnMailSent       = "on_mail_sent"
	OnMailRead       = "on_mail_read"
	OnMailDeleted    = "on_mail_deleted"
	OnMailUndeleted  = "on_mail_undeleted"
	OnUserAutobanned = "on_user_autobanned"
	OnUserBanned     = "on_user_banned"
	OnUserUnbanned   = "on_user_unbanned"
)
