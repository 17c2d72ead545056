package api

import (
	"folio/internal/assembly"
	"folio/internal/engine"
	"folio/internal/metadata"
	"folio/internal/scanner"
	"folio/internal/session"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string   `json:"error"`
	Kind      string   `json:"kind"`
	Component string   `json:"component,omitempty"`
	Path      string   `json:"path,omitempty"`
	Device    string   `json:"device,omitempty"`
	JobState  string   `json:"job_state,omitempty"`
	Conflicts []string `json:"conflicts,omitempty"`
	Captured  *int     `json:"captured,omitempty"`
	Target    *int     `json:"target,omitempty"`
}

// BookResponse describes the open book.
type BookResponse struct {
	Path      string          `json:"path"`
	Title     string          `json:"title"`
	Extension string          `json:"extension"`
	Pages     int             `json:"pages"`
	Metadata  metadata.Record `json:"metadata"`
}

// OpenBookRequest opens a book folder.
type OpenBookRequest struct {
	Path string `json:"path"`
}

// PagesResponse lists pages in reading order.
type PagesResponse struct {
	Pages []engine.PageView `json:"pages"`
}

// RoleRequest sets the role of one page.
type RoleRequest struct {
	Role string `json:"role"`
}

// MoveRequest moves a page to a new position.
type MoveRequest struct {
	Position int `json:"position"`
}

// FlipRequest re-alternates roles. Without From the whole book is flipped
// starting with recto.
type FlipRequest struct {
	From  *int64 `json:"from,omitempty"`
	Start string `json:"start,omitempty"`
}

// FlipResponse reports how many pages changed role.
type FlipResponse struct {
	Changed int `json:"changed"`
}

// ImportRequest adds existing image files to the book.
type ImportRequest struct {
	Paths       []string          `json:"paths"`
	Start       string            `json:"start,omitempty"`
	Resolutions map[string]string `json:"resolutions,omitempty"`
}

// RenumberRequest rewrites page file indexes. Order is position (default)
// or mtime; Resolutions answer conflicts with overwrite or skip.
type RenumberRequest struct {
	Order       string            `json:"order,omitempty"`
	DryRun      bool              `json:"dry_run,omitempty"`
	Resolutions map[string]string `json:"resolutions,omitempty"`
}

// OrientRequest guesses the role of pages named without one.
type OrientRequest struct {
	Invert bool `json:"invert,omitempty"`
}

// OrientResponse lists the pages whose role was guessed.
type OrientResponse struct {
	Oriented []int64 `json:"oriented"`
}

// TextResponse carries the recognised text of a page.
type TextResponse struct {
	ID     int64  `json:"id"`
	Text   string `json:"text"`
	Cached bool   `json:"cached"`
}

// DevicesResponse lists scanners.
type DevicesResponse struct {
	Devices []scanner.DeviceDescriptor `json:"devices"`
}

// DeviceRequest selects a scanner.
type DeviceRequest struct {
	ID string `json:"id"`
}

// ScanRequest starts a scan job.
type ScanRequest struct {
	Count int `json:"count"`
}

// RescanRequest re-acquires count leaves starting at a file index.
type RescanRequest struct {
	FirstIndex int `json:"first_index"`
	Count      int `json:"count"`
}

// ConflictsRequest answers pending overwrite conflicts by path.
type ConflictsRequest struct {
	Resolutions map[string]string `json:"resolutions"`
}

// SessionResponse is the controller status plus the estimate of a running job.
type SessionResponse struct {
	session.Status
	ETA *session.ETA `json:"eta,omitempty"`
}

// CommitResponse reports a committed job.
type CommitResponse struct {
	assembly.Result
	Session session.Status `json:"session"`
}

// MetadataResponse carries the record and which fields the user edited.
type MetadataResponse struct {
	Record metadata.Record `json:"record"`
	Edited []string        `json:"edited"`
	Dirty  bool            `json:"dirty"`
}

// ResolveResponse lists the fields a resolution filled in.
type ResolveResponse struct {
	Applied  []string         `json:"applied"`
	Metadata MetadataResponse `json:"metadata"`
}
