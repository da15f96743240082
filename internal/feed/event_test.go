package feed

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchpad/internal/models"
)

func TestFromChange(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		change  models.Change
		wantEvt string
		created bool
	}{
		{
			name: "created",
			change: models.Change{Seq: 7, Kind: models.ChangeCreated, ItemID: "job-1",
				NewImage: &models.WorkItem{ID: "job-1", InputText: "hello"}, At: at},
			wantEvt: EventInsert,
			created: true,
		},
		{
			name: "updated",
			change: models.Change{Seq: 8, Kind: models.ChangeUpdated, ItemID: "job-1",
				NewImage: &models.WorkItem{ID: "job-1", InputText: "again"},
				OldImage: &models.WorkItem{ID: "job-1", InputText: "hello"}, At: at},
			wantEvt: EventModify,
		},
		{
			name: "deleted",
			change: models.Change{Seq: 9, Kind: models.ChangeDeleted, ItemID: "job-1",
				OldImage: &models.WorkItem{ID: "job-1", InputText: "again"}, At: at},
			wantEvt: EventRemove,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := FromChange(tt.change)
			assert.Equal(t, tt.wantEvt, ev.EventName)
			assert.Equal(t, tt.created, ev.Created())
			assert.Equal(t, "job-1", ev.ItemID())
			assert.Equal(t, ev.EventID, ev.Receipt)
			assert.Equal(t, ev.EventID, ev.Dynamodb.SequenceNumber)
			assert.Equal(t, 1, ev.Deliveries)
			assert.Equal(t, at.Unix(), ev.Dynamodb.ApproximateCreationDateTime)
		})
	}
}

func TestEventWireFormat(t *testing.T) {
	ev := FromChange(models.Change{
		Seq:      3,
		Kind:     models.ChangeCreated,
		ItemID:   "job-1",
		NewImage: &models.WorkItem{ID: "job-1", InputText: "hello"},
		At:       time.Unix(1700000000, 0),
	})

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, "3", wire["eventID"])
	assert.Equal(t, "INSERT", wire["eventName"])
	assert.NotContains(t, wire, "Receipt")

	ddb := wire["dynamodb"].(map[string]any)
	newImage := ddb["NewImage"].(map[string]any)
	assert.Equal(t, map[string]any{"S": "hello"}, newImage["input_text"])
	assert.Equal(t, map[string]any{"S": "job-1"}, newImage["id"])
	assert.NotContains(t, newImage, "input_file_path", "empty attributes are omitted")
	assert.NotContains(t, ddb, "OldImage")

	var back Event
	require.NoError(t, json.Unmarshal(data, &back))
	item, ok := back.NewItem()
	require.True(t, ok)
	assert.Equal(t, models.WorkItem{ID: "job-1", InputText: "hello"}, item)
}

func TestItemIDFallbacks(t *testing.T) {
	t.Run("keys when new image lacks id", func(t *testing.T) {
		ev := Event{Dynamodb: Record{
			Keys:     Image{AttrID: {S: "from-keys"}},
			NewImage: Image{AttrInputText: {S: "x"}},
		}}
		assert.Equal(t, "from-keys", ev.ItemID())
	})

	t.Run("old image for removals", func(t *testing.T) {
		ev := Event{EventName: EventRemove, Dynamodb: Record{OldImage: Image{AttrID: {S: "gone"}}}}
		assert.Equal(t, "gone", ev.ItemID())
		_, ok := ev.NewItem()
		assert.False(t, ok)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, Event{}.ItemID())
	})
}
