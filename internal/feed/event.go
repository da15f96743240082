// Package feed carries record store changes to the dispatcher. It defines
// the change-feed record format, the sources the consumer reads from (the
// store's own change log or a Redis stream fed by the relay) and the
// consumer that applies retry, bisect and dead-letter handling.
package feed

import (
	"strconv"

	"launchpad/internal/models"
)

// Event names, as they appear on the wire.
const (
	EventInsert = "INSERT"
	EventModify = "MODIFY"
	EventRemove = "REMOVE"
)

// Attribute names of an item image.
const (
	AttrID            = "id"
	AttrInputText     = "input_text"
	AttrInputFilePath = "input_file_path"
)

// Attr is a typed attribute value. Only strings are used.
type Attr struct {
	S string `json:"S"`
}

// Image is an item snapshot keyed by attribute name.
type Image map[string]Attr

func (im Image) get(name string) string {
	if im == nil {
		return ""
	}
	return im[name].S
}

// Record is the body of a change-feed event.
type Record struct {
	Keys                        Image  `json:"Keys"`
	NewImage                    Image  `json:"NewImage,omitempty"`
	OldImage                    Image  `json:"OldImage,omitempty"`
	SequenceNumber              string `json:"SequenceNumber"`
	ApproximateCreationDateTime int64  `json:"ApproximateCreationDateTime,omitempty"`
}

// Event is one change-feed record.
type Event struct {
	EventID   string `json:"eventID"`
	EventName string `json:"eventName"`
	Dynamodb  Record `json:"dynamodb"`

	// Receipt identifies the delivery to the source that produced it: the
	// change-log sequence or the stream entry id.
	Receipt string `json:"-"`
	// Deliveries counts how many times the source has handed this event
	// out, including the current delivery.
	Deliveries int `json:"-"`
}

func imageOf(item *models.WorkItem) Image {
	if item == nil {
		return nil
	}
	im := Image{AttrID: {S: item.ID}}
	if item.InputText != "" {
		im[AttrInputText] = Attr{S: item.InputText}
	}
	if item.InputFilePath != "" {
		im[AttrInputFilePath] = Attr{S: item.InputFilePath}
	}
	return im
}

// FromChange converts a change-log row into a feed event.
func FromChange(c models.Change) Event {
	name := EventModify
	switch c.Kind {
	case models.ChangeCreated:
		name = EventInsert
	case models.ChangeDeleted:
		name = EventRemove
	}

	seq := strconv.FormatInt(c.Seq, 10)
	return Event{
		EventID:   seq,
		EventName: name,
		Dynamodb: Record{
			Keys:                        Image{AttrID: {S: c.ItemID}},
			NewImage:                    imageOf(c.NewImage),
			OldImage:                    imageOf(c.OldImage),
			SequenceNumber:              seq,
			ApproximateCreationDateTime: c.At.Unix(),
		},
		Receipt:    seq,
		Deliveries: 1,
	}
}

// Created reports whether the event describes a newly created item.
func (e Event) Created() bool {
	return e.EventName == EventInsert
}

// ItemID is the item id from the new image, falling back to the keys.
func (e Event) ItemID() string {
	if id := e.Dynamodb.NewImage.get(AttrID); id != "" {
		return id
	}
	if id := e.Dynamodb.Keys.get(AttrID); id != "" {
		return id
	}
	return e.Dynamodb.OldImage.get(AttrID)
}

// NewItem rebuilds the work item from the new image.
func (e Event) NewItem() (models.WorkItem, bool) {
	im := e.Dynamodb.NewImage
	if im == nil {
		return models.WorkItem{}, false
	}
	return models.WorkItem{
		ID:            im.get(AttrID),
		InputText:     im.get(AttrInputText),
		InputFilePath: im.get(AttrInputFilePath),
	}, true
}
