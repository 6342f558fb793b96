package service

import (
	"encoding/json"
	"fmt"
)

// ChangeEvent is a row-level change from the feed: one of Inserted, Updated or Deleted.
type ChangeEvent interface {
	changeEvent()
}

// Inserted carries a newly inserted row.
type Inserted struct {
	Task Task
}

// Updated carries the new state of an updated row.
type Updated struct {
	Task Task
}

// Deleted carries the ID of a deleted row.
type Deleted struct {
	ID int64
}

func (Inserted) changeEvent() {}
func (Updated) changeEvent()  {}
func (Deleted) changeEvent()  {}

// Change kinds as they appear on the wire.
const (
	KindInsert = "INSERT"
	KindUpdate = "UPDATE"
	KindDelete = "DELETE"
)

// ChangePayload is the wire shape of a postgres change notification.
type ChangePayload struct {
	Schema          string          `json:"schema"`
	Table           string          `json:"table"`
	Type            string          `json:"type"`
	CommitTimestamp string          `json:"commit_timestamp,omitempty"`
	Record          json.RawMessage `json:"record,omitempty"`
	OldRecord       json.RawMessage `json:"old_record,omitempty"`
}

// Event decodes the payload. Unknown kinds return a nil event and no error.
func (p ChangePayload) Event() (ChangeEvent, error) {
	switch p.Type {
	case KindInsert:
		var task Task
		if err := json.Unmarshal(p.Record, &task); err != nil {
			return nil, fmt.Errorf("decode inserted record: %w", err)
		}
		return Inserted{Task: task}, nil
	case KindUpdate:
		var task Task
		if err := json.Unmarshal(p.Record, &task); err != nil {
			return nil, fmt.Errorf("decode updated record: %w", err)
		}
		return Updated{Task: task}, nil
	case KindDelete:
		var old struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal(p.OldRecord, &old); err != nil {
			return nil, fmt.Errorf("decode deleted record: %w", err)
		}
		return Deleted{ID: old.ID}, nil
	default:
		return nil, nil
	}
}

// NewChangePayload encodes ev for schema.table.
func NewChangePayload(schema, table string, ev ChangeEvent) (ChangePayload, error) {
	p := ChangePayload{Schema: schema, Table: table}
	var err error
	switch e := ev.(type) {
	case Inserted:
		p.Type = KindInsert
		p.Record, err = json.Marshal(e.Task)
		p.OldRecord = json.RawMessage(`{}`)
	case Updated:
		p.Type = KindUpdate
		p.Record, err = json.Marshal(e.Task)
		if err == nil {
			p.OldRecord, err = json.Marshal(map[string]int64{"id": e.Task.ID})
		}
	case Deleted:
		p.Type = KindDelete
		p.Record = json.RawMessage(`{}`)
		p.OldRecord, err = json.Marshal(map[string]int64{"id": e.ID})
	default:
		return ChangePayload{}, fmt.Errorf("unsupported change event %T", ev)
	}
	if err != nil {
		return ChangePayload{}, err
	}
	return p, nil
}

// EventID returns the row ID an event refers to.
func EventID(ev ChangeEvent) int64 {
	switch e := ev.(type) {
	case Inserted:
		return e.Task.ID
	case Updated:
		return e.Task.ID
	case Deleted:
		return e.ID
	}
	return 0
}
