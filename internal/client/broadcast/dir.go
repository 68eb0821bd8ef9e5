package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

const (
	messageExt = ".json"
	tmpPrefix  = ".tmp-"

	// DefaultRetention is how long message files stay in the directory.
	DefaultRetention = time.Minute
)

// DirChannel is a cross-process Channel. Each message is written as one
// JSON file into a shared directory that every participant watches.
// Messages published by this channel are not delivered back to it.
type DirChannel struct {
	watcher   *fsnotify.Watcher
	local     *Bus
	logger    *slog.Logger
	done      chan struct{}
	dir       string
	origin    string
	retention time.Duration
	seq       atomic.Uint64
	closeOnce sync.Once
}

// DirOptions configures a DirChannel.
type DirOptions struct {
	Logger    *slog.Logger
	Retention time.Duration
}

// NewDirChannel creates dir if needed and starts watching it.
func NewDirChannel(dir string, opts DirOptions) (*DirChannel, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("ensure broadcast dir %s: %w", dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	c := &DirChannel{
		watcher:   watcher,
		local:     NewBus(0),
		logger:    opts.Logger,
		done:      make(chan struct{}),
		dir:       dir,
		origin:    uuid.NewString(),
		retention: opts.Retention,
	}

	go c.watchLoop()

	return c, nil
}

// Origin returns the identifier of this participant.
func (c *DirChannel) Origin() string { return c.origin }

// Publish writes msg into the shared directory.
func (c *DirChannel) Publish(ctx context.Context, msg Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg.Origin = c.origin
	if msg.At.IsZero() {
		msg.At = time.Now().UTC()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	name := fmt.Sprintf("%020d-%s-%d%s", msg.At.UnixNano(), c.origin, c.seq.Add(1), messageExt)
	if err := writeAtomic(filepath.Join(c.dir, name), data); err != nil {
		return err
	}

	c.removeStale()
	return nil
}

// Subscribe registers fn for messages from other participants.
func (c *DirChannel) Subscribe(fn Handler) func() {
	return c.local.Subscribe(fn)
}

// Close stops watching and closes subscriptions.
func (c *DirChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.watcher.Close()
		_ = c.local.Close()
	})
	return err
}

// watchLoop обрабатывает события файловой системы
func (c *DirChannel) watchLoop() {
	for {
		select {
		case <-c.done:
			return
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				c.handleFile(event.Name)
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("Broadcast watcher error", "error", err)
		}
	}
}

func (c *DirChannel) handleFile(path string) {
	base := filepath.Base(path)
	if strings.HasPrefix(base, tmpPrefix) || !strings.HasSuffix(base, messageExt) {
		return
	}
	// Свои сообщения не читаем
	if strings.Contains(base, c.origin) {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		// Файл мог быть удален другим участником
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("Failed to read broadcast message", "file", base, "error", err)
		}
		return
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("Skipping malformed broadcast message", "file", base, "error", err)
		return
	}
	if msg.Origin == c.origin {
		return
	}

	c.logger.Debug("Broadcast message received", "kind", msg.Kind, "tenant_id", msg.TenantID)
	_ = c.local.Publish(context.Background(), msg)
}

// removeStale удаляет файлы сообщений старше retention
func (c *DirChannel) removeStale() {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return
	}

	cutoff := time.Now().Add(-c.retention)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), messageExt) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		_ = os.Remove(filepath.Join(c.dir, e.Name()))
	}
}

// writeAtomic пишет во временный файл и переименовывает, чтобы читатели
// никогда не видели частично записанное сообщение
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}
