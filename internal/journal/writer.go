package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Change kinds.
const (
	KindReplaced = "events.replaced"
	KindUpserted = "event.upserted"
	KindDeleted  = "event.deleted"
	KindPlanned  = "plan.applied"
)

// Writer appends entries to the change journal. The sync endpoint compares
// journal timestamps against a client's since value.
type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

// Append records one change inside tx and returns its timestamp in unix nanos.
// The timestamp is taken under the write lock and is strictly greater than
// every earlier entry, so journal order, timestamp order and commit order
// agree even when the clock stalls or steps back.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, kind, eventID, actorID string, payload Payload) (int64, error) {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal change payload: %w", err)
	}
	if actorID == "" {
		actorID = "system"
	}
	var ts int64
	err = tx.QueryRowContext(ctx, `INSERT INTO changes(ts,kind,event_id,actor_id,payload_json)
		SELECT MAX(?, COALESCE(MAX(ts),0)+1), ?, ?, ?, ? FROM changes
		RETURNING ts`,
		now().UTC().UnixNano(), kind, nullable(eventID), actorID, string(data)).Scan(&ts)
	if err != nil {
		return 0, fmt.Errorf("append change: %w", err)
	}
	return ts, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
