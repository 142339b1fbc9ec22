package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hupe1980/schedflow/model"
	"github.com/hupe1980/schedflow/schedule"
)

// TextResponse builds a final model response carrying only text.
func TextResponse(text string) *model.Response {
	return &model.Response{Text: text, FinishReason: "stop"}
}

// ToolCallResponse builds a model response proposing one tool call with the
// given arguments. The arguments must JSON-marshal; helpers panic on
// builder misuse rather than returning errors.
func ToolCallResponse(id, name string, args map[string]any) *model.Response {
	raw, err := json.Marshal(args)
	if err != nil {
		panic(fmt.Sprintf("testutil: marshal tool args: %v", err))
	}
	return &model.Response{
		ToolCalls:    []model.ToolCall{{ID: id, Name: name, Arguments: raw}},
		FinishReason: "tool_calls",
	}
}

// Snapshot builds a usable resource snapshot with the given occupied slots
// and a single provider/room pair unless more are supplied.
func Snapshot(occupied ...schedule.OccupiedSlot) *schedule.ResourceSnapshot {
	now := time.Now().UTC()
	return &schedule.ResourceSnapshot{
		Providers: []schedule.Provider{{ID: "dr-lee", Name: "Dr. Lee"}, {ID: "dr-patel", Name: "Dr. Patel"}},
		Rooms:     []schedule.Room{{ID: "room-1", Name: "Exam Room 1"}, {ID: "room-2", Name: "Exam Room 2"}},
		Occupied:  occupied,
		FetchedAt: now,
		ExpiresAt: now.Add(5 * time.Minute),
	}
}

// StaticDirectory is a Directory serving fixed data, optionally failing.
type StaticDirectory struct {
	ProviderList []schedule.Provider
	RoomList     []schedule.Room
	OccupiedList []schedule.OccupiedSlot
	Err          error

	calls atomic.Int32
}

// Calls reports how many refresh fan-outs hit the directory.
func (d *StaticDirectory) Calls() int { return int(d.calls.Load()) }

// Providers implements schedule.Directory.
func (d *StaticDirectory) Providers(context.Context) ([]schedule.Provider, error) {
	d.calls.Add(1)
	return d.ProviderList, d.Err
}

// Rooms implements schedule.Directory.
func (d *StaticDirectory) Rooms(context.Context) ([]schedule.Room, error) {
	return d.RoomList, d.Err
}

// Occupied implements schedule.Directory.
func (d *StaticDirectory) Occupied(_ context.Context, _, _ time.Time) ([]schedule.OccupiedSlot, error) {
	return d.OccupiedList, d.Err
}
