package domain

import "time"

// Core domain models used internally. The HTTP adapter renders these directly
// as JSON; keep field tags in sync with the database column names.

type Status string

const (
	StatusPending  Status = "pending"
	StatusScanning Status = "scanning"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusScanning, StatusComplete, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is an outcome written by the scan trigger service.
func (s Status) Terminal() bool { return s == StatusComplete || s == StatusFailed }

// CanStartScan reports whether an image in status from may move to scanning.
// A second request while a scan is in flight is a no-op.
func CanStartScan(from Status) bool { return from != StatusScanning }

type Vulnerabilities struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
}

func (v Vulnerabilities) Validate() error {
	if v.Critical < 0 || v.High < 0 || v.Medium < 0 {
		return ErrNegativeCount
	}
	return nil
}

// Changed reports whether any severity count differs.
func (v Vulnerabilities) Changed(o Vulnerabilities) bool { return v != o }

// Findings renders the counts as the severity → count payload stored on history rows.
func (v Vulnerabilities) Findings() map[string]int {
	return map[string]int{"critical": v.Critical, "high": v.High, "medium": v.Medium}
}

type Image struct {
	ID              string             `json:"id"`
	OwnerID         string             `json:"user_id"`
	Name            string             `json:"name"`
	RegistryURL     *string            `json:"registry_url,omitempty"`
	RegistryDomain  *string            `json:"registry_domain,omitempty"`
	Status          Status             `json:"status"`
	Vulnerabilities Vulnerabilities    `json:"vulnerabilities"`
	LastScan        *time.Time         `json:"last_scan,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
	History         []ScanHistoryEntry `json:"scan_history,omitempty"`
}

// Clone returns a copy that shares no mutable state with img.
func (img Image) Clone() Image {
	out := img
	if img.RegistryURL != nil {
		u := *img.RegistryURL
		out.RegistryURL = &u
	}
	if img.RegistryDomain != nil {
		d := *img.RegistryDomain
		out.RegistryDomain = &d
	}
	if img.LastScan != nil {
		t := *img.LastScan
		out.LastScan = &t
	}
	if img.History != nil {
		out.History = make([]ScanHistoryEntry, len(img.History))
		for i, h := range img.History {
			out.History[i] = h.Clone()
		}
	}
	return out
}

type ScanHistoryEntry struct {
	ID          string         `json:"id"`
	ImageID     string         `json:"image_id"`
	OwnerID     string         `json:"user_id"`
	Status      Status         `json:"status"`
	StartedAt   time.Time      `json:"scan_started_at"`
	CompletedAt *time.Time     `json:"scan_completed_at,omitempty"`
	Findings    map[string]int `json:"vulnerabilities_found"`
}

func (h ScanHistoryEntry) Clone() ScanHistoryEntry {
	out := h
	if h.CompletedAt != nil {
		t := *h.CompletedAt
		out.CompletedAt = &t
	}
	if h.Findings != nil {
		out.Findings = make(map[string]int, len(h.Findings))
		for k, v := range h.Findings {
			out.Findings[k] = v
		}
	}
	return out
}

// ImageUpdate carries the mutable columns of an image; nil fields are left unchanged.
type ImageUpdate struct {
	Status          *Status
	Vulnerabilities *Vulnerabilities
	LastScan        *time.Time
}
