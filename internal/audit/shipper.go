package audit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/aspr-photos/intake/internal/config"
)

// Shipper forwards audit entries to an external destination.
type Shipper interface {
	// Ship sends an audit entry to the destination
	Ship(ctx context.Context, entry *Entry) error
	// Close flushes anything buffered and releases resources
	Close() error
}

// MultiShipper ships to multiple destinations
type MultiShipper struct {
	shippers []Shipper
	mu       sync.RWMutex
}

// NewMultiShipper creates a shipper for every enabled config entry.
func NewMultiShipper(configs []config.AuditShipperConfig) (*MultiShipper, error) {
	ms := &MultiShipper{shippers: make([]Shipper, 0, len(configs))}

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		var shipper Shipper
		var err error

		switch cfg.Type {
		case "webhook":
			if cfg.Webhook == nil {
				return nil, fmt.Errorf("webhook config is required for webhook shipper")
			}
			shipper, err = NewWebhookShipper(cfg.Webhook)
		case "file":
			if cfg.File == nil {
				return nil, fmt.Errorf("file config is required for file shipper")
			}
			shipper, err = NewFileShipper(cfg.File)
		default:
			return nil, fmt.Errorf("unknown shipper type: %s", cfg.Type)
		}

		if err != nil {
			_ = ms.Close()
			return nil, fmt.Errorf("failed to create %s shipper: %w", cfg.Type, err)
		}

		ms.shippers = append(ms.shippers, shipper)
	}

	return ms, nil
}

// Len reports how many shippers are active.
func (ms *MultiShipper) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.shippers)
}

// Ship sends an entry to all configured shippers. Every shipper is attempted;
// the last error is returned.
func (ms *MultiShipper) Ship(ctx context.Context, entry *Entry) error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var lastErr error
	for _, shipper := range ms.shippers {
		if err := shipper.Ship(ctx, entry); err != nil {
			lastErr = err
			slog.Warn("audit shipper error", "action", entry.Action, "error", err)
		}
	}
	return lastErr
}

// Close closes all shippers
func (ms *MultiShipper) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var lastErr error
	for _, shipper := range ms.shippers {
		if err := shipper.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// SignatureHeader carries "sha256=<hex HMAC of the body>" when the webhook has
// a secret configured, so the receiver can reject forged audit records.
const SignatureHeader = "X-Intake-Signature"

const (
	defaultWebhookTimeout = 10 * time.Second
	defaultFlushInterval  = 5 * time.Second
	webhookQueueDepth     = 1000
)

// WebhookShipper posts audit entries as JSON. With BatchSize zero every entry
// is its own request; otherwise a single goroutine owns the pending batch and
// posts it as an array once full or every FlushInterval.
type WebhookShipper struct {
	url     string
	secret  []byte
	headers map[string]string
	client  *http.Client
	timeout time.Duration

	batchSize int
	flushEach time.Duration
	queue     chan *Entry
	stop      chan struct{}
	stopped   chan struct{}
	stopOnce  sync.Once
}

// NewWebhookShipper creates a new webhook shipper
func NewWebhookShipper(cfg *config.AuditWebhookConfig) (*WebhookShipper, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}

	ws := &WebhookShipper{
		url:       cfg.URL,
		headers:   cfg.Headers,
		timeout:   secondsOr(cfg.TimeoutSecs, defaultWebhookTimeout),
		batchSize: cfg.BatchSize,
		flushEach: secondsOr(cfg.FlushInterval, defaultFlushInterval),
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	if cfg.Secret != "" {
		ws.secret = []byte(cfg.Secret)
	}
	ws.client = &http.Client{Timeout: ws.timeout}

	if ws.batchSize <= 0 {
		close(ws.stopped)
		return ws, nil
	}
	ws.queue = make(chan *Entry, webhookQueueDepth)
	go ws.run()
	return ws, nil
}

func secondsOr(secs int, fallback time.Duration) time.Duration {
	if secs <= 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

// run is the only reader of queue and the only owner of pending.
func (ws *WebhookShipper) run() {
	defer close(ws.stopped)

	tick := time.NewTicker(ws.flushEach)
	defer tick.Stop()

	pending := make([]*Entry, 0, ws.batchSize)
	for {
		select {
		case e := <-ws.queue:
			pending = append(pending, e)
			if len(pending) >= ws.batchSize {
				pending = ws.post(pending)
			}
		case <-tick.C:
			pending = ws.post(pending)
		case <-ws.stop:
			for {
				select {
				case e := <-ws.queue:
					pending = append(pending, e)
				default:
					ws.post(pending)
					return
				}
			}
		}
	}
}

// post sends a batch and hands back the emptied slice for reuse. Failed
// batches are logged and dropped; the database row is the system of record.
func (ws *WebhookShipper) post(batch []*Entry) []*Entry {
	if len(batch) == 0 {
		return batch
	}
	ctx, cancel := context.WithTimeout(context.Background(), ws.timeout)
	defer cancel()

	if err := ws.send(ctx, batch); err != nil {
		slog.Warn("failed to send audit batch", "entries", len(batch), "error", err)
	}
	clear(batch)
	return batch[:0]
}

// Ship queues the entry when batching is on. A full queue, or batching being
// off, sends the entry on the caller's context instead.
func (ws *WebhookShipper) Ship(ctx context.Context, entry *Entry) error {
	if ws.queue != nil {
		select {
		case ws.queue <- entry:
			return nil
		default:
		}
	}
	return ws.send(ctx, entry)
}

func (ws *WebhookShipper) send(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal audit payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range ws.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	if ws.secret != nil {
		req.Header.Set(SignatureHeader, Sign(ws.secret, body))
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the SignatureHeader value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Close stops the batch loop after posting whatever is queued.
func (ws *WebhookShipper) Close() error {
	ws.stopOnce.Do(func() { close(ws.stop) })
	<-ws.stopped
	return nil
}

// FileShipper appends audit entries to a file as JSON lines. Once the file
// grows past MaxSizeMB it becomes path.1, older copies shift up by one, and
// anything past MaxBackups is removed.
type FileShipper struct {
	mu      sync.Mutex
	path    string
	limit   int64
	keep    int
	f       *os.File
	written int64
}

// NewFileShipper creates a new file shipper
func NewFileShipper(cfg *config.AuditFileConfig) (*FileShipper, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("file path is required")
	}
	fs := &FileShipper{
		path:  cfg.Path,
		limit: int64(cfg.MaxSizeMB) << 20,
		keep:  cfg.MaxBackups,
	}
	if err := fs.open(); err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	return fs, nil
}

func (fs *FileShipper) open() error {
	f, err := os.OpenFile(fs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	fs.written = 0
	if info, err := f.Stat(); err == nil {
		fs.written = info.Size()
	}
	fs.f = f
	return nil
}

// Ship writes an entry to the file
func (fs *FileShipper) Ship(_ context.Context, entry *Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	line = append(line, '\n')

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.limit > 0 && fs.written > fs.limit {
		if err := fs.rotate(); err != nil {
			return fmt.Errorf("failed to rotate audit log: %w", err)
		}
	}
	n, err := fs.f.Write(line)
	fs.written += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

func (fs *FileShipper) backup(n int) string {
	return fmt.Sprintf("%s.%d", fs.path, n)
}

func (fs *FileShipper) rotate() error {
	if err := fs.f.Close(); err != nil {
		return err
	}
	if fs.keep > 0 {
		_ = os.Remove(fs.backup(fs.keep))
	}
	for n := fs.keep - 1; n >= 1; n-- {
		_ = os.Rename(fs.backup(n), fs.backup(n+1))
	}
	_ = os.Rename(fs.path, fs.backup(1))
	return fs.open()
}

// Close closes the file
func (fs *FileShipper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.f.Close()
}
