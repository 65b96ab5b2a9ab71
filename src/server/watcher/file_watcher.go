// Package watcher reports debounced changes to solution and project files.
package watcher

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"unity-references/src/internal/common"
	"unity-references/src/internal/constants"
)

// DefaultDebounceDelay is the delay used when none is configured.
const DefaultDebounceDelay = constants.FileWatchDebounceDelay

// FileChangeEvent represents a file change event
type FileChangeEvent struct {
	Path      string
	Operation string // "write", "create", "remove", "rename"
	Timestamp time.Time
}

// FileWatcher watches directories (not recursively) for files with the given
// extensions and calls onChange with each debounced batch.
type FileWatcher struct {
	watcher       *fsnotify.Watcher
	extensions    []string
	onChange      func([]FileChangeEvent)
	debounceDelay time.Duration

	pathsMu    sync.Mutex
	watchPaths map[string]int

	// Debouncing
	pendingEvents map[string]*FileChangeEvent
	eventMutex    sync.Mutex
	debounceTimer *time.Timer

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewFileWatcher creates a new file watcher
func NewFileWatcher(extensions []string, onChange func([]FileChangeEvent)) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	fw := &FileWatcher{
		watcher:       watcher,
		extensions:    extensions,
		onChange:      onChange,
		debounceDelay: DefaultDebounceDelay,
		watchPaths:    make(map[string]int),
		pendingEvents: make(map[string]*FileChangeEvent),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}

	return fw, nil
}

// AddPath starts watching dir. Paths are reference counted so that two
// workspaces sharing a directory can be removed independently.
func (fw *FileWatcher) AddPath(dir string) error {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	fw.pathsMu.Lock()
	defer fw.pathsMu.Unlock()

	if fw.watchPaths[absPath] == 0 {
		if err := fw.watcher.Add(absPath); err != nil {
			return err
		}
		common.WorkspaceLogger.Debug("FileWatcher: Added watch path: %s", absPath)
	}
	fw.watchPaths[absPath]++
	return nil
}

// RemovePath drops one reference to dir.
func (fw *FileWatcher) RemovePath(dir string) {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return
	}

	fw.pathsMu.Lock()
	defer fw.pathsMu.Unlock()

	switch fw.watchPaths[absPath] {
	case 0:
		return
	case 1:
		delete(fw.watchPaths, absPath)
		if err := fw.watcher.Remove(absPath); err != nil {
			common.WorkspaceLogger.Debug("FileWatcher: Failed to remove %s: %v", absPath, err)
		}
	default:
		fw.watchPaths[absPath]--
	}
}

// Start begins watching for file changes
func (fw *FileWatcher) Start() {
	go fw.watchLoop()
}

func (fw *FileWatcher) watchLoop() {
	defer close(fw.done)

	for {
		select {
		case <-fw.ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if !fw.shouldProcess(event.Name) {
				continue
			}
			fw.handleEvent(event)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			common.WorkspaceLogger.Error("FileWatcher error: %v", err)
		}
	}
}

func (fw *FileWatcher) shouldProcess(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, validExt := range fw.extensions {
		if ext == validExt {
			return true
		}
	}
	return false
}

func (fw *FileWatcher) handleEvent(event fsnotify.Event) {
	var operation string
	switch {
	case event.Has(fsnotify.Write):
		operation = "write"
	case event.Has(fsnotify.Create):
		operation = "create"
	case event.Has(fsnotify.Remove):
		operation = "remove"
	case event.Has(fsnotify.Rename):
		operation = "rename"
	default:
		return
	}

	fw.eventMutex.Lock()
	defer fw.eventMutex.Unlock()

	fw.pendingEvents[event.Name] = &FileChangeEvent{
		Path:      event.Name,
		Operation: operation,
		Timestamp: time.Now(),
	}

	if fw.debounceTimer != nil {
		fw.debounceTimer.Stop()
	}
	fw.debounceTimer = time.AfterFunc(fw.debounceDelay, fw.flushEvents)
}

func (fw *FileWatcher) flushEvents() {
	fw.eventMutex.Lock()
	if len(fw.pendingEvents) == 0 {
		fw.eventMutex.Unlock()
		return
	}

	events := make([]FileChangeEvent, 0, len(fw.pendingEvents))
	for _, event := range fw.pendingEvents {
		events = append(events, *event)
	}
	fw.pendingEvents = make(map[string]*FileChangeEvent)
	fw.eventMutex.Unlock()

	if fw.onChange != nil {
		common.WorkspaceLogger.Debug("FileWatcher: Flushing %d file change events", len(events))
		fw.onChange(events)
	}
}

// Stop stops the watcher. Pending events are dropped.
func (fw *FileWatcher) Stop() error {
	fw.cancel()

	fw.eventMutex.Lock()
	if fw.debounceTimer != nil {
		fw.debounceTimer.Stop()
	}
	fw.pendingEvents = make(map[string]*FileChangeEvent)
	fw.eventMutex.Unlock()

	err := fw.watcher.Close()
	<-fw.done
	return err
}

// SetDebounceDelay sets the debounce delay for file events
func (fw *FileWatcher) SetDebounceDelay(delay time.Duration) {
	fw.debounceDelay = delay
}
