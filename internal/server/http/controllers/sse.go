package controllers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/dmwm/workqueue/internal/handoff"
	workqueuesvc "github.com/dmwm/workqueue/internal/services/workqueues"
	logpkg "github.com/dmwm/workqueue/pkg/log"
)

// FeedController exposes the job handoff feed of a local queue.
type FeedController struct {
	svc    *workqueuesvc.Service
	logger logpkg.Logger
}

// NewFeedController creates a new feed controller.
func NewFeedController(svc *workqueuesvc.Service, logger logpkg.Logger) *FeedController {
	return &FeedController{svc: svc, logger: logger.WithComponent("http.feed")}
}

// RegisterRoutes registers feed routes with the given mux.
//
// This method sets up HTTP endpoints for:
// - Publishing Acquired elements to the feed (/v1/feed/once)
// - Reading a batch of deliveries (/v1/feed/read)
// - Committing a consumer cursor (/v1/feed/ack)
// - Tailing deliveries as Server-Sent Events (/v1/feed/stream)
func (c *FeedController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/feed/once", method(http.MethodPost, c.handleOnce))
	mux.HandleFunc("/v1/feed/read", method(http.MethodPost, c.handleRead))
	mux.HandleFunc("/v1/feed/ack", method(http.MethodPost, c.handleAck))
	mux.HandleFunc("/v1/feed/stream", method(http.MethodGet, c.handleStream))
}

func (c *FeedController) handleOnce(w http.ResponseWriter, r *http.Request) {
	resp, err := c.svc.FeedOnce(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (c *FeedController) handleRead(w http.ResponseWriter, r *http.Request) {
	var req workqueuesvc.FeedReadRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	resp, err := c.svc.ReadFeed(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (c *FeedController) handleAck(w http.ResponseWriter, r *http.Request) {
	var req workqueuesvc.FeedAckRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if _, err := c.svc.AckFeed(r.Context(), req); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStream tails the feed for a consumer group. Query parameters:
// group (required), limit, autoAck. Each delivery is one SSE event whose id
// is the feed sequence.
func (c *FeedController) handleStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	group := q.Get("group")
	if group == "" {
		writeErrorReason(w, http.StatusBadRequest, "group is required", "validation")
		return
	}
	limit := parseLimit(q.Get("limit"))
	autoAck := parseBool(q.Get("autoAck"))
	after := parseUint(r.Header.Get("Last-Event-ID"))

	// Fail fast on queues without a feed before switching to SSE.
	if _, err := c.svc.ReadFeed(r.Context(), workqueuesvc.FeedReadRequest{Group: group, Limit: 1}); err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	sink := sseSink{w: w, r: r}
	_ = sink.Flush()

	ctx := r.Context()
	for {
		resp, err := c.svc.ReadFeed(ctx, workqueuesvc.FeedReadRequest{Group: group, After: after, Limit: limit, WaitMs: 5000})
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("feed stream read failed", logpkg.Str("group", group), logpkg.Err(err))
			}
			return
		}
		for _, d := range resp.Deliveries {
			if err := sink.Send(d); err != nil {
				return
			}
			after = d.Seq
		}
		if len(resp.Deliveries) > 0 {
			_ = sink.Flush()
			if autoAck {
				if _, err := c.svc.AckFeed(ctx, workqueuesvc.FeedAckRequest{Group: group, Seq: after}); err != nil {
					c.logger.Warn("feed stream ack failed", logpkg.Str("group", group), logpkg.Err(err))
					return
				}
			}
		}
	}
}

// sseSink writes feed deliveries as Server-Sent Events.
type sseSink struct {
	w http.ResponseWriter
	r *http.Request
}

// Send writes one delivery as an SSE event with its sequence as the id.
func (s sseSink) Send(d handoff.Delivery) error {
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if _, err := s.w.Write([]byte("id: " + strconv.FormatUint(d.Seq, 10) + "\ndata: ")); err != nil {
		return err
	}
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	if _, err := s.w.Write([]byte("\n\n")); err != nil {
		return err
	}
	return nil
}

// Flush flushes the HTTP response writer if it supports flushing.
func (s sseSink) Flush() error {
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
