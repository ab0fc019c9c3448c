package main

import (
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchManager owns one fsnotify watcher per session that has at least one
// open realtime connection. Change events are debounced and pushed to the
// session's broadcast group as file_change events.
type watchManager struct {
	hub      *hub
	debounce time.Duration

	mu       sync.Mutex
	watchers map[string]*sessionWatcher
}

type sessionWatcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

func newWatchManager(h *hub, debounce time.Duration) *watchManager {
	return &watchManager{hub: h, debounce: debounce, watchers: make(map[string]*sessionWatcher)}
}

// Ensure starts a watcher for the session's workspace unless one is
// already running. A missing workspace is fine: the session may not have
// uploaded or cloned anything yet.
func (m *watchManager) Ensure(sessionID, workspace string) {
	m.mu.Lock()
	_, running := m.watchers[sessionID]
	m.mu.Unlock()
	if running {
		return
	}
	if _, err := os.Stat(workspace); err != nil {
		return
	}

	// The recursive registration walks the whole workspace, so it runs
	// outside the lock; a watcher for one session must not stall the rest.
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[WATCH] Failed to create watcher for session %s: %v", sessionID, err)
		return
	}
	if err := addRecursive(w, workspace); err != nil {
		log.Printf("[WATCH] Failed to watch workspace for session %s: %v", sessionID, err)
		w.Close()
		return
	}

	sw := &sessionWatcher{watcher: w, done: make(chan struct{})}
	m.mu.Lock()
	if _, ok := m.watchers[sessionID]; ok {
		// Lost the race to a concurrent Ensure for the same session.
		m.mu.Unlock()
		w.Close()
		return
	}
	m.watchers[sessionID] = sw
	m.mu.Unlock()

	go m.run(sessionID, workspace, sw)
	log.Printf("[WATCH] Watching workspace for session %s", sessionID)
}

// Stop tears down the session's watcher, if any. Wired as the hub's
// onEmpty hook so watchers die with their last connection.
func (m *watchManager) Stop(sessionID string) {
	m.mu.Lock()
	sw, ok := m.watchers[sessionID]
	if ok {
		delete(m.watchers, sessionID)
	}
	m.mu.Unlock()
	if ok {
		close(sw.done)
		sw.watcher.Close()
		log.Printf("[WATCH] Stopped watching session %s", sessionID)
	}
}

// run drains events, folding bursts within the debounce window into one
// file_change broadcast naming the workspace-relative paths that changed.
func (m *watchManager) run(sessionID, workspace string, sw *sessionWatcher) {
	var timer *time.Timer
	var timerC <-chan time.Time
	changed := make(map[string]bool)

	for {
		select {
		case <-sw.done:
			return
		case ev, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addRecursive(sw.watcher, ev.Name); err != nil {
						log.Printf("[WATCH] Failed to watch new directory %s: %v", filepath.Base(ev.Name), err)
					}
				}
			}
			rel, err := filepath.Rel(workspace, ev.Name)
			if err != nil || strings.HasPrefix(rel, "..") {
				continue
			}
			if rel == ".git" || strings.HasPrefix(rel, ".git"+string(filepath.Separator)) {
				// Repository internals churn on every git operation.
				continue
			}
			changed[filepath.ToSlash(rel)] = true
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(m.debounce)
			timerC = timer.C
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[WATCH] Watcher error for session %s: %v", sessionID, err)
		case <-timerC:
			paths := make([]string, 0, len(changed))
			for p := range changed {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			m.hub.Broadcast(sessionID, Event{Type: "file_change", Payload: strings.Join(paths, " ")})
			changed = make(map[string]bool)
			timer = nil
			timerC = nil
		}
	}
}

// addRecursive registers dir and every nested directory with the watcher,
// skipping git internals. Unreadable or vanished subtrees are skipped.
func addRecursive(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
