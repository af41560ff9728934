package workqueues

import (
	"github.com/dmwm/workqueue/internal/element"
	"github.com/dmwm/workqueue/internal/handoff"
	"github.com/dmwm/workqueue/internal/namespace"
	"github.com/dmwm/workqueue/internal/workload"
	"github.com/dmwm/workqueue/internal/workqueue"
)

type QueueWorkRequest struct {
	Workload *workload.Workload `json:"workload"`
	Team     string             `json:"team,omitempty"`
}

type QueueWorkResponse struct {
	IDs []string `json:"ids"`
	// Duplicate is set when every element already existed.
	Duplicate bool `json:"duplicate,omitempty"`
	// TaskErrors lists tasks that could not be queued.
	TaskErrors []string `json:"taskErrors,omitempty"`
}

type ElementsResponse struct {
	Elements []*element.Element `json:"elements"`
}

type AcquiredByRequest struct {
	Queue string `json:"queue"`
}

type ChildUpdatesRequest struct {
	Queue   string                  `json:"queue"`
	Updates []workqueue.ChildUpdate `json:"updates"`
}

type ChildUpdatesResponse struct {
	Results []workqueue.ChildUpdateResult `json:"results"`
}

type SummaryRequest struct {
	Request string `json:"request,omitempty"`
}

type SummaryResponse struct {
	Requests []workqueue.RequestSummary `json:"requests"`
}

type PriorityRequest struct {
	Request  string `json:"request"`
	Priority int    `json:"priority"`
}

type CountResponse struct {
	Count int `json:"count"`
}

type IDsResponse struct {
	IDs []string `json:"ids"`
}

type UpdateStatusRequest struct {
	IDs      []string            `json:"ids"`
	Status   element.Status      `json:"status"`
	Progress *workqueue.Progress `json:"progress,omitempty"`
}

type UpdateStatusResponse struct {
	Updated []string `json:"updated"`
	Errors  []string `json:"errors,omitempty"`
}

type SyncResponse struct {
	CycleID  string `json:"cycleId"`
	Pulled   int    `json:"pulled"`
	Pushed   int    `json:"pushed"`
	Deferred int    `json:"deferred"`
	Ended    int    `json:"ended"`
}

type FeedReadRequest struct {
	Group string `json:"group"`
	// After skips deliveries up to this sequence even when the group's
	// cursor is behind it.
	After  uint64 `json:"after,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	WaitMs int64  `json:"waitMs,omitempty"`
}

type FeedReadResponse struct {
	Deliveries []handoff.Delivery `json:"deliveries"`
}

type FeedAckRequest struct {
	Group string `json:"group"`
	Seq   uint64 `json:"seq"`
}

type SlotsRequest struct {
	Slots map[string]int `json:"slots"`
}

// QueueInfo describes the queue and its element counts.
type QueueInfo struct {
	Meta      namespace.Meta         `json:"meta"`
	Counts    map[element.Status]int `json:"counts"`
	Slots     map[string]int         `json:"slots"`
	FeedSeq   uint64                 `json:"feedSeq,omitempty"`
	Consumers map[string]uint64      `json:"consumers,omitempty"`
}

// Empty is the request or response of calls without arguments.
type Empty struct{}
