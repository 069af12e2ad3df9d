package domain

import "time"

type Entity string

const (
	EntityImages      Entity = "images"
	EntityScanHistory Entity = "scan_history"
)

type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
)

// ChangeEvent is one row mutation delivered by a change stream. Before is
// absent for inserts and After is absent for deletes. Events are treated as
// immutable once published.
type ChangeEvent struct {
	ID            string            `json:"id"`
	Entity        Entity            `json:"entity"`
	Kind          EventKind         `json:"kind"`
	OwnerID       string            `json:"owner_id"`
	ImageBefore   *Image            `json:"image_before,omitempty"`
	ImageAfter    *Image            `json:"image_after,omitempty"`
	HistoryBefore *ScanHistoryEntry `json:"history_before,omitempty"`
	HistoryAfter  *ScanHistoryEntry `json:"history_after,omitempty"`
	ReceivedAt    time.Time         `json:"received_at"`
}

// ImageID returns the id of the image the event concerns, whichever snapshot carries it.
func (e ChangeEvent) ImageID() string {
	switch {
	case e.ImageAfter != nil:
		return e.ImageAfter.ID
	case e.ImageBefore != nil:
		return e.ImageBefore.ID
	case e.HistoryAfter != nil:
		return e.HistoryAfter.ImageID
	case e.HistoryBefore != nil:
		return e.HistoryBefore.ImageID
	}
	return ""
}
