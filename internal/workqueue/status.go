package workqueue

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dmwm/workqueue/internal/element"
	"github.com/dmwm/workqueue/internal/elementstore"
	"github.com/dmwm/workqueue/internal/filter"
	"github.com/dmwm/workqueue/internal/policy/end"
	logpkg "github.com/dmwm/workqueue/pkg/log"
)

// Filter selects elements for Status.
type Filter struct {
	Request  string           `json:"request,omitempty"`
	Statuses []element.Status `json:"statuses,omitempty"`
	// Expr is a CEL expression; see package filter.
	Expr string `json:"expr,omitempty"`
}

// Status lists elements matching f, ordered by insertion.
func (e *Engine) Status(ctx context.Context, f Filter) ([]*element.Element, error) {
	expr, err := filter.Compile(f.Expr)
	if err != nil {
		return nil, &element.ValidationError{Field: "expr", Reason: err.Error()}
	}
	var docs []elementstore.Doc
	switch {
	case f.Request != "":
		docs, err = e.byRequest(ctx, f.Request)
	case len(f.Statuses) > 0:
		for _, s := range f.Statuses {
			part, qerr := e.store.Query(ctx, elementstore.ByStatus, elementstore.Key(string(s)))
			if qerr != nil {
				return nil, qerr
			}
			docs = append(docs, part...)
		}
	default:
		docs, err = e.store.Query(ctx, elementstore.ByRequest, elementstore.All())
	}
	if err != nil {
		return nil, err
	}
	want := map[element.Status]bool{}
	for _, s := range f.Statuses {
		want[s] = true
	}
	now := e.now()
	out := make([]*element.Element, 0, len(docs))
	for _, d := range docs {
		if len(want) > 0 && !want[d.Element.Status] {
			continue
		}
		if expr.Match(d.Element, now) {
			out = append(out, d.Element)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].InsertID < out[j].InsertID })
	return out, nil
}

// RequestSummary aggregates one request.
type RequestSummary struct {
	Request         string                 `json:"request"`
	Status          end.RequestStatus      `json:"status"`
	Elements        int                    `json:"elements"`
	Jobs            int                    `json:"jobs"`
	PercentComplete int                    `json:"percentComplete"`
	Counts          map[element.Status]int `json:"counts"`
}

// Summary aggregates every request, or only request when set.
func (e *Engine) Summary(ctx context.Context, request string) ([]RequestSummary, error) {
	var docs []elementstore.Doc
	var err error
	if request != "" {
		docs, err = e.byRequest(ctx, request)
	} else {
		docs, err = e.store.Query(ctx, elementstore.ByRequest, elementstore.All())
	}
	if err != nil {
		return nil, err
	}
	return e.summarize(groupByRequest(docs)), nil
}

func (e *Engine) summarize(groups map[string][]*element.Element) []RequestSummary {
	now := e.now()
	out := make([]RequestSummary, 0, len(groups))
	for req, els := range groups {
		s := RequestSummary{Request: req, Status: e.opts.EndPolicy.Evaluate(els, now), Elements: len(els), Counts: map[element.Status]int{}}
		weighted := 0
		for _, el := range els {
			s.Counts[el.Status]++
			s.Jobs += el.Jobs
			weighted += el.PercentComplete * el.Jobs
		}
		if s.Jobs > 0 {
			s.PercentComplete = weighted / s.Jobs
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Request < out[j].Request })
	return out
}

func groupByRequest(docs []elementstore.Doc) map[string][]*element.Element {
	out := map[string][]*element.Element{}
	for _, d := range docs {
		out[d.Element.RequestName] = append(out[d.Element.RequestName], d.Element)
	}
	return out
}

// SetPriority sets priority on every element of request and returns how many
// changed. Elements whose update is deferred keep their old priority until a
// later call.
func (e *Engine) SetPriority(ctx context.Context, request string, priority int) (int, error) {
	docs, err := e.byRequest(ctx, request)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range docs {
		_, changed, err := e.mutate(ctx, d.Element.ID, "priority", func(el *element.Element) (bool, error) {
			if el.Priority == priority {
				return false, nil
			}
			el.Priority = priority
			return true, nil
		})
		switch {
		case errors.Is(err, ErrDeferred), errors.Is(err, elementstore.ErrNotFound):
			continue
		case err != nil:
			return n, err
		}
		if changed {
			n++
		}
	}
	e.logger.Info("priority updated", logpkg.Str("request", request), logpkg.Int("priority", priority), logpkg.Int("elements", n))
	return n, nil
}

// Progress is job-creation feedback for an element.
type Progress struct {
	PercentComplete int `json:"percentComplete"`
	PercentSuccess  int `json:"percentSuccess"`
}

// UpdateStatus moves the elements in ids forward to status and records
// progress when given. Each element is handled independently; the ids that
// were updated are returned with the joined errors of the rest.
func (e *Engine) UpdateStatus(ctx context.Context, ids []string, status element.Status, progress *Progress) ([]string, error) {
	if status.Rank() < 0 {
		return nil, &element.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
	}
	if progress != nil && (progress.PercentComplete < 0 || progress.PercentComplete > 100 || progress.PercentSuccess < 0 || progress.PercentSuccess > 100) {
		return nil, &element.ValidationError{Field: "progress", Reason: "percentages must be within 0..100"}
	}
	var updated []string
	var errs []error
	for _, id := range ids {
		_, changed, err := e.mutate(ctx, id, "status", func(el *element.Element) (bool, error) {
			before := *el
			if err := advance(el, status, e.now()); err != nil {
				return false, err
			}
			if progress != nil {
				el.PercentComplete = progress.PercentComplete
				el.PercentSuccess = progress.PercentSuccess
			}
			return el.Status != before.Status || el.PercentComplete != before.PercentComplete || el.PercentSuccess != before.PercentSuccess, nil
		})
		if err != nil {
			var ite *element.InvalidTransitionError
			if errors.As(err, &ite) {
				e.logger.Error("rejected status update", logpkg.Str("element", id), logpkg.Err(err))
			}
			errs = append(errs, err)
			continue
		}
		if changed {
			updated = append(updated, id)
		}
	}
	return updated, errors.Join(errs...)
}
