// Package zipreg tracks the geodatabase archives dropped into the shared
// registry directory. Submissions that name no archive take the newest dated
// one, so the registry keeps a sorted view instead of globbing per request.
package zipreg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/andrewpyen/arcpy-automated-map-creation/log"
)

// ErrNoArchives means the drop directory holds no dated .gdb.zip at all.
var ErrNoArchives = errors.New("no dated geodatabase archive in registry")

// Archives are named like SWN_BRN_20250812.gdb.zip. The eight digits are the
// authoritative recency signal; file mtimes on the share lie after copies.
var reDatedArchive = regexp.MustCompile(`(?i)_(\d{8})\.gdb\.zip$`)

// Entry is one recognized archive in the drop directory.
type Entry struct {
	Path    string
	Name    string
	Date    time.Time
	ModTime time.Time
}

// Registry watches a drop directory and answers which archive is current.
// fsnotify covers local directories; the scheduled rescan covers network
// shares where change events never arrive.
type Registry struct {
	dir      string
	debounce time.Duration

	mu      sync.RWMutex
	entries []Entry
	timer   *time.Timer

	watcher *fsnotify.Watcher
	cron    *cron.Cron
	cancel  context.CancelFunc
}

func New(dir string) *Registry {
	return &Registry{dir: dir, debounce: 500 * time.Millisecond}
}

// Start performs the initial scan and begins event-driven plus scheduled
// refreshes. A missing directory is not fatal; it may be mounted later and
// the rescan will pick it up.
func (r *Registry) Start(ctx context.Context, rescanEvery time.Duration) error {
	if err := r.Refresh(); err != nil {
		log.GetLogger().Warn("registry initial scan failed", zap.String("dir", r.dir), zap.Error(err))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create registry watcher: %w", err)
	}
	r.watcher = watcher
	if err := watcher.Add(r.dir); err != nil {
		log.GetLogger().Warn("registry directory not watchable, relying on rescan",
			zap.String("dir", r.dir), zap.Error(err))
	}

	ctx, r.cancel = context.WithCancel(ctx)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				r.handleEvent(event)
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.GetLogger().Warn("registry watch error", zap.Error(werr))
			}
		}
	}()

	if rescanEvery > 0 {
		r.cron = cron.New()
		_, err := r.cron.AddFunc(fmt.Sprintf("@every %s", rescanEvery), func() {
			if err := r.Refresh(); err != nil {
				log.GetLogger().Warn("registry rescan failed", zap.String("dir", r.dir), zap.Error(err))
			}
		})
		if err != nil {
			return fmt.Errorf("schedule registry rescan: %w", err)
		}
		r.cron.Start()
	}
	return nil
}

// Stop halts the watcher and the rescan schedule.
func (r *Registry) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.watcher != nil {
		r.watcher.Close()
	}
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
	r.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.mu.Unlock()
}

func (r *Registry) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(strings.ToLower(event.Name), ".gdb.zip") {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}
	// A zip being copied in fires a write event per chunk; collapse the burst
	// into one scan after the copy settles.
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.debounce, func() {
		if err := r.Refresh(); err != nil {
			log.GetLogger().Warn("registry refresh failed", zap.String("dir", r.dir), zap.Error(err))
		}
	})
}

// Refresh rescans the drop directory and replaces the entry view.
func (r *Registry) Refresh() error {
	dirents, err := os.ReadDir(r.dir)
	if err != nil {
		return err
	}

	entries := make([]Entry, 0, len(dirents))
	for _, de := range dirents {
		if de.IsDir() {
			continue
		}
		m := reDatedArchive.FindStringSubmatch(de.Name())
		if m == nil {
			continue
		}
		date, err := time.Parse("20060102", m[1])
		if err != nil {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Path:    filepath.Join(r.dir, de.Name()),
			Name:    de.Name(),
			Date:    date,
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Date.Equal(entries[j].Date) {
			return entries[i].Date.After(entries[j].Date)
		}
		if !entries[i].ModTime.Equal(entries[j].ModTime) {
			return entries[i].ModTime.After(entries[j].ModTime)
		}
		return entries[i].Name < entries[j].Name
	})

	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()
	return nil
}

// Current returns the newest archive by embedded date, mtime as tiebreak.
func (r *Registry) Current() (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.entries) == 0 {
		return Entry{}, ErrNoArchives
	}
	return r.entries[0], nil
}

// Lookup finds an archive by its base name.
func (r *Registry) Lookup(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if strings.EqualFold(e.Name, name) {
			return e, true
		}
	}
	return Entry{}, false
}

// List returns the known archives, newest first.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Dir returns the watched drop directory.
func (r *Registry) Dir() string {
	return r.dir
}
