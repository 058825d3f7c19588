package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"projectops/internal/db"
)

const (
	KindCreate       = "create"
	KindUpdate       = "update"
	KindDelete       = "delete"
	KindEnd          = "end"
	KindClose        = "close"
	KindStatusChange = "status_change"
	KindLogin        = "login"
	KindLogout       = "logout"
)

// Entry is one audit record. ActorID and Detail are optional.
type Entry struct {
	ActorID    *int64
	Kind       string
	EntityType string
	EntityID   int64
	Detail     any
}

// Writer appends audit rows inside the caller's transaction.
type Writer struct {
	Now    func() time.Time
	Logger *logrus.Entry
}

// Append inserts one event row. Detail serialization never fails the call:
// it degrades to {"raw": ...} and then to a null detail. Only the insert
// itself can return an error.
func (w Writer) Append(ctx context.Context, q db.DBTX, e Entry) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	detail := w.encodeDetail(e)
	_, err := q.ExecContext(ctx, `INSERT INTO events(ts,actor_id,kind,entity_type,entity_id,detail_json) VALUES (?,?,?,?,?,?)`,
		ts, e.ActorID, e.Kind, e.EntityType, e.EntityID, detail)
	if err != nil {
		return fmt.Errorf("append %s event for %s %d: %w", e.Kind, e.EntityType, e.EntityID, err)
	}
	return nil
}

func (w Writer) encodeDetail(e Entry) *string {
	if e.Detail == nil {
		return nil
	}
	data, err := json.Marshal(e.Detail)
	if err == nil {
		s := string(data)
		return &s
	}
	w.warn(e, "event detail not serializable, storing raw form", err)
	raw, rawErr := rawDetail(e.Detail)
	if rawErr == nil {
		return &raw
	}
	w.warn(e, "event detail raw form failed, storing null", rawErr)
	return nil
}

func rawDetail(detail any) (out string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("stringify detail: %v", p)
		}
	}()
	data, err := json.Marshal(map[string]string{"raw": fmt.Sprint(detail)})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (w Writer) warn(e Entry, msg string, err error) {
	if w.Logger == nil {
		return
	}
	w.Logger.WithFields(logrus.Fields{
		"kind":        e.Kind,
		"entity_type": e.EntityType,
		"entity_id":   e.EntityID,
	}).WithError(err).Warn(msg)
}
