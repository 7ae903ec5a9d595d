package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// Alarm is a single scheduled wakeup, per spec.md §3. Payload is carried
// as a raw JSON document and never decoded inside the Persistence Layer;
// the Alarm Manager passes it through raw as well, and the Timer Adapter
// decodes xstate-delay payloads when restoring or delivering them.
type Alarm struct {
	ID             string
	Type           string
	ScheduledAtMs  int64
	RepeatInterval *int64 // nil means absent
	Payload        json.RawMessage
	CreatedAtMs    int64
}

// InsertAlarmOpts are the fields accepted by InsertAlarm.
type InsertAlarmOpts struct {
	ID             string
	Type           string
	ScheduledAtMs  int64
	RepeatInterval *int64
	Payload        json.RawMessage
	CreatedAtMs    int64
}

// UpdateAlarmOpts are the fields accepted by UpdateAlarm. ID selects the
// row; the remaining fields replace the row's values in place.
type UpdateAlarmOpts struct {
	ID             string
	ScheduledAtMs  int64
	RepeatInterval *int64
	Payload        json.RawMessage
}

func decodeAlarm(rec map[string]any) (Alarm, error) {
	a := Alarm{}

	id, _ := rec["id"].(string)
	a.ID = id

	typ, _ := rec["type"].(string)
	a.Type = typ

	sched, err := asInt64(rec["scheduled_at"])
	if err != nil {
		return a, fmt.Errorf("storage: decode scheduled_at: %w", err)
	}
	a.ScheduledAtMs = sched

	if rec["repeat_interval"] != nil {
		ri, err := asInt64(rec["repeat_interval"])
		if err != nil {
			return a, fmt.Errorf("storage: decode repeat_interval: %w", err)
		}
		a.RepeatInterval = &ri
	}

	created, err := asInt64(rec["created_at"])
	if err != nil {
		return a, fmt.Errorf("storage: decode created_at: %w", err)
	}
	a.CreatedAtMs = created

	switch p := rec["payload"].(type) {
	case string:
		a.Payload = json.RawMessage(p)
	case []byte:
		a.Payload = json.RawMessage(p)
	case nil:
		a.Payload = json.RawMessage("{}")
	default:
		return a, fmt.Errorf("storage: unexpected payload type %T", p)
	}

	return a, nil
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("storage: cannot convert %T to int64", v)
	}
}

// ListAlarms returns all alarm rows, ordered by scheduled_at ascending.
func (e *Engine) ListAlarms(ctx context.Context) ([]Alarm, error) {
	recs, err := e.queryRecords(ctx, `
		SELECT id, type, scheduled_at, repeat_interval, payload, created_at
		FROM alarms ORDER BY scheduled_at ASC, created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("storage: list alarms: %w", err)
	}
	return decodeAlarms(recs)
}

// DueAlarms returns rows with scheduled_at <= before, same ordering as
// ListAlarms.
func (e *Engine) DueAlarms(ctx context.Context, before int64) ([]Alarm, error) {
	recs, err := e.queryRecords(ctx, `
		SELECT id, type, scheduled_at, repeat_interval, payload, created_at
		FROM alarms WHERE scheduled_at <= ? ORDER BY scheduled_at ASC, created_at ASC
	`, before)
	if err != nil {
		return nil, fmt.Errorf("storage: due alarms: %w", err)
	}
	return decodeAlarms(recs)
}

// EarliestAlarm returns the row with the minimum scheduled_at, or
// (Alarm{}, false, nil) if the table is empty.
func (e *Engine) EarliestAlarm(ctx context.Context) (Alarm, bool, error) {
	recs, err := e.queryRecords(ctx, `
		SELECT id, type, scheduled_at, repeat_interval, payload, created_at
		FROM alarms ORDER BY scheduled_at ASC, created_at ASC LIMIT 1
	`)
	if err != nil {
		return Alarm{}, false, fmt.Errorf("storage: earliest alarm: %w", err)
	}
	if len(recs) == 0 {
		return Alarm{}, false, nil
	}
	a, err := decodeAlarm(recs[0])
	if err != nil {
		return Alarm{}, false, err
	}
	return a, true, nil
}

// InsertAlarm inserts exactly one row; it fails on a duplicate id (no
// silent upsert — UpdateAlarm is the intentional upsert channel).
func (e *Engine) InsertAlarm(ctx context.Context, opts InsertAlarmOpts) error {
	payload := opts.Payload
	if payload == nil {
		payload = json.RawMessage("{}")
	}

	_, err := e.exec(ctx, `
		INSERT INTO alarms (id, type, scheduled_at, repeat_interval, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, opts.ID, opts.Type, opts.ScheduledAtMs, opts.RepeatInterval, string(payload), opts.CreatedAtMs)
	if err != nil {
		return fmt.Errorf("storage: insert alarm %q: %w", opts.ID, err)
	}
	return nil
}

// UpdateAlarm mutates scheduled_at, repeat_interval, and payload for an
// existing id. It is not an error if the id is absent.
func (e *Engine) UpdateAlarm(ctx context.Context, opts UpdateAlarmOpts) error {
	payload := opts.Payload
	if payload == nil {
		payload = json.RawMessage("{}")
	}

	_, err := e.exec(ctx, `
		UPDATE alarms SET scheduled_at = ?, repeat_interval = ?, payload = ?
		WHERE id = ?
	`, opts.ScheduledAtMs, opts.RepeatInterval, string(payload), opts.ID)
	if err != nil {
		return fmt.Errorf("storage: update alarm %q: %w", opts.ID, err)
	}
	return nil
}

// DeleteAlarm removes a row if present; it is not an error if absent.
func (e *Engine) DeleteAlarm(ctx context.Context, id string) error {
	_, err := e.exec(ctx, `DELETE FROM alarms WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("storage: delete alarm %q: %w", id, err)
	}
	return nil
}

// DeleteAlarmsByType removes all matching rows atomically.
func (e *Engine) DeleteAlarmsByType(ctx context.Context, alarmType string) error {
	_, err := e.exec(ctx, `DELETE FROM alarms WHERE type = ?`, alarmType)
	if err != nil {
		return fmt.Errorf("storage: delete alarms by type %q: %w", alarmType, err)
	}
	return nil
}

func decodeAlarms(recs []map[string]any) ([]Alarm, error) {
	out := make([]Alarm, 0, len(recs))
	for _, rec := range recs {
		a, err := decodeAlarm(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
