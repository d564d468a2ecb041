package transport

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-json"

	"github.com/obsidian-copilot/transport-core/internal/resilience"
	transporterrors "github.com/obsidian-copilot/transport-core/pkg/errors"
	"github.com/obsidian-copilot/transport-core/pkg/types"
)

// defaultPollInterval is spec §4.4's default filesystem poll cadence. The
// transport does not fall back to it: a WatchInterval <= 0 selects the
// fsnotify watch instead of polling.
const defaultPollInterval = 500 * time.Millisecond

// defaultLockTimeout is spec §4.4's default stale-lock threshold.
const defaultLockTimeout = 5 * time.Second

// defaultMaxQueueSize is spec §4.4's default outgoing queue bound.
const defaultMaxQueueSize = 100

// FileSystemConfig configures the lock-coordinated directory transport.
type FileSystemConfig struct {
	Root          string
	WatchInterval time.Duration // <=0 selects fsnotify native watch instead of polling
	LockTimeout   time.Duration
	MaxQueueSize  int
}

func (c FileSystemConfig) lockTimeout() time.Duration {
	if c.LockTimeout > 0 {
		return c.LockTimeout
	}
	return defaultLockTimeout
}

func (c FileSystemConfig) maxQueueSize() int {
	if c.MaxQueueSize > 0 {
		return c.MaxQueueSize
	}
	return defaultMaxQueueSize
}

// FileSystemTransport exchanges messages through a shared directory, per
// spec §4.4: outgoing/incoming/processing/locks subdirectories, atomic
// rename as the send commit boundary, and a sentinel-file lock protocol
// for receive-side mutual exclusion with another process.
type FileSystemTransport struct {
	*BaseTransport

	cfg FileSystemConfig

	mu      sync.Mutex
	pending map[string]chan pendingResult

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewFileSystemTransport builds a disconnected filesystem transport.
func NewFileSystemTransport(cfg FileSystemConfig, cbConfig resilience.CircuitBreakerConfig, logger *slog.Logger, debug bool) *FileSystemTransport {
	caps := types.Capabilities{
		Bidirectional:   true,
		Streaming:       false,
		RealtimeCapable: false,
		OfflineCapable:  true,
		SupportedTypes:  types.NewSupportedTypes(types.RequestTypes()...),
	}

	return &FileSystemTransport{
		BaseTransport: NewBaseTransport(types.TransportFileSystem, caps, cbConfig, 0, logger, debug),
		cfg:           cfg,
		pending:       make(map[string]chan pendingResult),
	}
}

func (t *FileSystemTransport) outgoingDir() string   { return filepath.Join(t.cfg.Root, "outgoing") }
func (t *FileSystemTransport) incomingDir() string   { return filepath.Join(t.cfg.Root, "incoming") }
func (t *FileSystemTransport) processingDir() string { return filepath.Join(t.cfg.Root, "processing") }
func (t *FileSystemTransport) locksDir() string      { return filepath.Join(t.cfg.Root, "locks") }

// Connect ensures the four subdirectories exist and are writable, then
// starts the receive loop (native watch or polling, per cfg.WatchInterval).
func (t *FileSystemTransport) Connect(ctx context.Context) error {
	if t.State() == types.StateConnected {
		return nil
	}
	for _, dir := range []string{t.outgoingDir(), t.incomingDir(), t.processingDir(), t.locksDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return transporterrors.NewTransportUnavailable(string(types.TransportFileSystem), err.Error())
		}
	}
	probe := filepath.Join(t.cfg.Root, ".write-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return transporterrors.NewTransportUnavailable(string(types.TransportFileSystem), "root is not writable: "+err.Error())
	}
	_ = os.Remove(probe)

	t.mu.Lock()
	t.stopCh = make(chan struct{})
	t.mu.Unlock()

	if t.cfg.WatchInterval <= 0 {
		if err := t.startWatch(); err != nil {
			return transporterrors.NewTransportUnavailable(string(types.TransportFileSystem), err.Error())
		}
	} else {
		t.startPoll(t.cfg.WatchInterval)
	}

	t.SetConnected()
	return nil
}

// Disconnect stops the receive loop and cancels outstanding sends.
func (t *FileSystemTransport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	stop := t.stopCh
	t.stopCh = nil
	watcher := t.watcher
	t.watcher = nil
	pending := t.pending
	t.pending = make(map[string]chan pendingResult)
	t.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if watcher != nil {
		_ = watcher.Close()
	}
	t.wg.Wait()

	for id, ch := range pending {
		ch <- pendingResult{err: transporterrors.NewCancelled(string(types.TransportFileSystem))}
		delete(pending, id)
	}

	t.SetDisconnected()
	return nil
}

// Send writes message to a temp name in outgoing/ then atomically renames
// it to its final name, the commit boundary per spec §4.4, and waits for
// a correlated reply delivered via the receive loop.
func (t *FileSystemTransport) Send(ctx context.Context, message *types.Message, selCtx types.SelectionContext) (*types.Response, error) {
	if err := t.Guard(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(t.outgoingDir())
	if err == nil && len(entries) >= t.cfg.maxQueueSize() {
		return nil, transporterrors.NewQueueFull(string(types.TransportFileSystem))
	}

	ctx, cancel := t.ResolveDeadline(ctx, selCtx)
	defer cancel()

	ch := make(chan pendingResult, 1)
	t.mu.Lock()
	t.pending[message.ID] = ch
	t.mu.Unlock()

	start := time.Now()
	if err := t.writeMessage(t.outgoingDir(), message); err != nil {
		t.removePending(message.ID)
		t.RecordResult(false, time.Since(start))
		return nil, transporterrors.NewProtocolError(string(types.TransportFileSystem), err.Error())
	}

	select {
	case res := <-ch:
		t.RecordResult(res.err == nil, time.Since(start))
		return res.resp, res.err
	case <-ctx.Done():
		t.removePending(message.ID)
		t.RecordResult(false, time.Since(start))
		return nil, transporterrors.NewTimeout(string(types.TransportFileSystem))
	}
}

func (t *FileSystemTransport) removePending(id string) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// writeMessage implements the write-temp-then-rename send protocol.
func (t *FileSystemTransport) writeMessage(dir string, message *types.Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	finalName := fmt.Sprintf("%d-%s.json", time.Now().UnixNano(), message.ID)
	tmpName := "." + finalName + ".tmp"
	tmpPath := filepath.Join(dir, tmpName)
	finalPath := filepath.Join(dir, finalName)

	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, finalPath)
}

func (t *FileSystemTransport) startPoll(interval time.Duration) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		t.mu.Lock()
		stop := t.stopCh
		t.mu.Unlock()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				t.pollOnce()
			}
		}
	}()
}

func (t *FileSystemTransport) startWatch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(t.incomingDir()); err != nil {
		_ = watcher.Close()
		return err
	}

	t.mu.Lock()
	t.watcher = watcher
	stop := t.stopCh
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case <-stop:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					t.pollOnce()
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return nil
}

// pollOnce processes every file currently in incoming/ once: acquire its
// lock sentinel, move to processing/, parse, emit, delete, release lock.
// A held (non-stale) lock just defers the file to the next poll.
func (t *FileSystemTransport) pollOnce() {
	entries, err := os.ReadDir(t.incomingDir())
	if err != nil {
		return
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		t.processOne(name)
	}
}

func (t *FileSystemTransport) processOne(name string) {
	lockPath := filepath.Join(t.locksDir(), name+".lock")

	if !t.acquireLock(lockPath) {
		return
	}
	defer os.Remove(lockPath)

	srcPath := filepath.Join(t.incomingDir(), name)
	dstPath := filepath.Join(t.processingDir(), name)
	if err := os.Rename(srcPath, dstPath); err != nil {
		return
	}

	data, err := os.ReadFile(dstPath)
	if err != nil {
		os.Remove(dstPath)
		return
	}

	var msg types.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.EmitError(transporterrors.NewProtocolError(string(types.TransportFileSystem), "malformed message file "+name))
		os.Remove(dstPath)
		return
	}
	os.Remove(dstPath)

	if msg.CorrelationID != "" {
		if ch, ok := t.takePending(msg.CorrelationID); ok {
			ch <- pendingResult{resp: t.toResponse(&msg)}
			return
		}
	}
	t.EmitMessage(&msg)
}

func (t *FileSystemTransport) toResponse(msg *types.Message) *types.Response {
	return &types.Response{
		ID:            msg.ID,
		CorrelationID: msg.CorrelationID,
		Success:       true,
		Payload:       msg.Payload,
		Timestamp:     msg.Timestamp,
	}
}

func (t *FileSystemTransport) takePending(id string) (chan pendingResult, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	return ch, ok
}

// acquireLock creates lockPath exclusively, stealing a stale lock (older
// than cfg.lockTimeout()) if creation fails because one already exists.
func (t *FileSystemTransport) acquireLock(lockPath string) bool {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err == nil {
		f.Close()
		return true
	}
	if !os.IsExist(err) {
		return false
	}

	info, statErr := os.Stat(lockPath)
	if statErr != nil {
		return false
	}
	if time.Since(info.ModTime()) <= t.cfg.lockTimeout() {
		return false
	}

	if err := os.Remove(lockPath); err != nil {
		return false
	}
	f, err = os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return false
	}
	f.Close()
	return true
}
