// Package audit records security-relevant actions: PIN issuance and use,
// session revocation, photo uploads, edits and deletions, bulk operations and
// tag creation. Entries always land in the admin_audit_log table and can be
// copied to external sinks through the Shipper interface.
//
// Recording never blocks or fails the request that triggered it. Writes run on
// a detached goroutine and failures are logged and counted in
// audit_write_failures_total.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/aspr-photos/intake/internal/db/models"
	"github.com/aspr-photos/intake/internal/safego"
	"github.com/aspr-photos/intake/internal/telemetry"
)

// Entry is one audit event as callers describe it.
type Entry struct {
	Timestamp   time.Time      `json:"timestamp"`
	EntityType  string         `json:"entity_type"`
	EntityID    string         `json:"entity_id,omitempty"`
	Action      string         `json:"action"`
	PerformedBy string         `json:"performed_by"`
	IPAddress   string         `json:"ip_address,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

// Store persists audit rows. *repositories.AuditRepository satisfies it.
type Store interface {
	Insert(ctx context.Context, e *models.AuditLogEntry) error
}

const writeTimeout = 5 * time.Second

// Writer persists entries asynchronously.
type Writer struct {
	store   Store
	shipper Shipper
	wg      sync.WaitGroup
	now     func() time.Time
}

// NewWriter returns a Writer over store. shipper may be nil.
func NewWriter(store Store, shipper Shipper) *Writer {
	return &Writer{store: store, shipper: shipper, now: time.Now}
}

// Record queues e for persistence and returns immediately. The caller's
// context is not used for the write, so a cancelled request still leaves its
// trail.
func (w *Writer) Record(_ context.Context, e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = w.now().UTC()
	}
	safego.Tracked(&w.wg, "audit."+e.Action, func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		w.write(ctx, &e)
	})
}

func (w *Writer) write(ctx context.Context, e *Entry) {
	row, err := toRow(e)
	if err == nil {
		err = w.store.Insert(ctx, row)
	}
	if err != nil {
		telemetry.AuditWriteFailuresTotal.Inc()
		slog.Error("failed to write audit log",
			"action", e.Action, "entity_type", e.EntityType, "entity_id", e.EntityID, "error", err)
	}

	if w.shipper != nil {
		if err := w.shipper.Ship(ctx, e); err != nil {
			slog.Warn("failed to ship audit log", "action", e.Action, "error", err)
		}
	}
}

// Flush blocks until every entry recorded so far has been written.
func (w *Writer) Flush() {
	w.wg.Wait()
}

// Close flushes pending writes and closes the shipper.
func (w *Writer) Close() error {
	w.Flush()
	if w.shipper != nil {
		return w.shipper.Close()
	}
	return nil
}

func toRow(e *Entry) (*models.AuditLogEntry, error) {
	row := &models.AuditLogEntry{
		EntityType:  e.EntityType,
		Action:      e.Action,
		PerformedBy: e.PerformedBy,
		CreatedAt:   e.Timestamp,
	}
	if e.EntityID != "" {
		id := e.EntityID
		row.EntityID = &id
	}
	if e.IPAddress != "" {
		ip := e.IPAddress
		row.IPAddress = &ip
	}
	if len(e.Details) > 0 {
		details, err := json.Marshal(e.Details)
		if err != nil {
			return nil, err
		}
		row.Details = details
	}
	return row, nil
}
