package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type SyncAction string

const (
	SyncActionCreate SyncAction = "create"
	SyncActionUpdate SyncAction = "update"
	SyncActionDelete SyncAction = "delete"
)

func (a SyncAction) Valid() bool {
	switch a {
	case SyncActionCreate, SyncActionUpdate, SyncActionDelete:
		return true
	}
	return false
}

type SnapshotTab struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	SyncTarget string `json:"syncTarget"`
}

type SnapshotBox struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type SnapshotItem struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Qty      int               `json:"qty"`
	Metadata map[string]string `json:"metadata"`
}

// Snapshot is the transport-neutral image of one item at one point in time.
// Metadata is keyed by field display names.
type Snapshot struct {
	Tab  SnapshotTab  `json:"tab"`
	Box  SnapshotBox  `json:"box"`
	Item SnapshotItem `json:"item"`
}

// Target returns the sync target name, or "" for a nil snapshot.
func (s *Snapshot) Target() string {
	if s == nil {
		return ""
	}
	return s.Tab.SyncTarget
}

// SyncJob is one unit of outbound sync work. Create and delete carry
// Snapshot; update carries Before and After.
type SyncJob struct {
	Action   SyncAction
	Snapshot *Snapshot
	Before   *Snapshot
	After    *Snapshot
}

type syncJobWire struct {
	Action  SyncAction      `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

type updatePayload struct {
	Before *Snapshot `json:"before"`
	After  *Snapshot `json:"after"`
}

// Target resolves the sync target of the job; updates prefer the after
// image.
func (j *SyncJob) Target() string {
	if j.Action == SyncActionUpdate {
		if t := j.After.Target(); t != "" {
			return t
		}
		return j.Before.Target()
	}
	return j.Snapshot.Target()
}

// Empty reports whether the job carries nothing to sync.
func (j *SyncJob) Empty() bool {
	if j.Action == SyncActionUpdate {
		return j.Before == nil && j.After == nil
	}
	return j.Snapshot == nil
}

// Label names the box and item the job is about, for status messages.
func (j *SyncJob) Label() string {
	s := j.Snapshot
	if j.Action == SyncActionUpdate {
		s = j.After
		if s == nil {
			s = j.Before
		}
	}
	box, item := "Box", "Unnamed item"
	if s != nil {
		if s.Box.Name != "" {
			box = s.Box.Name
		}
		if s.Item.Name != "" {
			item = s.Item.Name
		}
	}
	return fmt.Sprintf("%s — %s", box, item)
}

func (j SyncJob) MarshalJSON() ([]byte, error) {
	var payload interface{} = j.Snapshot
	if j.Action == SyncActionUpdate {
		payload = updatePayload{Before: j.Before, After: j.After}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(syncJobWire{Action: j.Action, Payload: raw})
}

func (j *SyncJob) UnmarshalJSON(data []byte) error {
	var wire syncJobWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if !wire.Action.Valid() {
		return fmt.Errorf("unknown sync action %q", wire.Action)
	}

	*j = SyncJob{Action: wire.Action}
	if len(wire.Payload) == 0 || string(wire.Payload) == "null" {
		return nil
	}

	if wire.Action == SyncActionUpdate {
		var p updatePayload
		if err := json.Unmarshal(wire.Payload, &p); err != nil {
			return fmt.Errorf("invalid update payload: %w", err)
		}
		j.Before, j.After = p.Before, p.After
		return nil
	}

	var s Snapshot
	if err := json.Unmarshal(wire.Payload, &s); err != nil {
		return fmt.Errorf("invalid %s payload: %w", wire.Action, err)
	}
	j.Snapshot = &s
	return nil
}

// SyncSignal is the best-effort sync status returned next to a successful
// mutation.
type SyncSignal struct {
	Status string `json:"status"`
	Detail string `json:"detail"`
}

const (
	SyncSignalSuccess = "success"
	SyncSignalError   = "error"
)

type WorkerStatus struct {
	Online    bool    `json:"online"`
	LastError *string `json:"lastError"`
	Pending   int     `json:"pending"`
}

type SyncEventType string

const (
	SyncEventSucceeded SyncEventType = "sync_succeeded"
	SyncEventSkipped   SyncEventType = "sync_skipped"
	SyncEventFailed    SyncEventType = "sync_failed"
)

// SyncEvent is published after every job execution for live dashboards.
type SyncEvent struct {
	Type      SyncEventType `json:"type"`
	JobID     string        `json:"job_id"`
	Action    SyncAction    `json:"action"`
	Target    string        `json:"target,omitempty"`
	Label     string        `json:"label"`
	Attempt   int           `json:"attempt"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}
