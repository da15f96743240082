package models

import (
	"regexp"
	"strings"
	"time"
)

// WorkItem is one uploaded unit of work. It is written by the intake route
// and never changed by the pipeline afterwards.
type WorkItem struct {
	ID            string    `json:"id"`
	InputText     string    `json:"input_text,omitempty"`
	InputFilePath string    `json:"input_file_path,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HasPayload reports whether the item carries inline text or a file
// reference.
func (w WorkItem) HasPayload() bool {
	return strings.TrimSpace(w.InputText) != "" || strings.TrimSpace(w.InputFilePath) != ""
}

var itemIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{0,127}$`)

// MaxItemIDLength is the longest accepted item id.
const MaxItemIDLength = 128

// ItemIDRule describes an acceptable item id to API callers.
const ItemIDRule = "id must be 1 to 128 characters of letters, digits and . _ : -, starting with a letter or digit"

// ValidItemID reports whether id is safe to store and to pass to a worker
// as a shell argument.
func ValidItemID(id string) bool {
	return itemIDPattern.MatchString(id)
}

// ChangeKind is the type of mutation a change-feed record describes.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// Change is one row of the record store's change log. NewImage is set for
// created and updated changes, OldImage for updated and deleted ones.
type Change struct {
	Seq      int64      `json:"seq"`
	Kind     ChangeKind `json:"kind"`
	ItemID   string     `json:"item_id"`
	NewImage *WorkItem  `json:"new_image,omitempty"`
	OldImage *WorkItem  `json:"old_image,omitempty"`
	At       time.Time  `json:"at"`
}

// DeadLetter records a change-feed event that was given up on.
type DeadLetter struct {
	EventID  string    `json:"event_id"`
	ItemID   string    `json:"item_id,omitempty"`
	Reason   string    `json:"reason"`
	Attempts int       `json:"attempts"`
	At       time.Time `json:"at"`
}
