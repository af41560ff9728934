package splitting

import (
	"github.com/dmwm/workqueue/internal/element"
)

// EventBased slices events into elements of events_per_job * jobs_per_element
// events. Production tasks slice TotalEvents; input tasks slice each block's
// event count.
type EventBased struct{}

func (EventBased) Name() string { return "EventBased" }

func (p EventBased) Split(u Unit, in *Input, cont *Continuation, opts Options) ([]*element.Element, *Continuation, error) {
	s := newSplitter(p.Name(), u, in, cont, opts)
	perJob, err := s.param("events_per_job", 0)
	if err != nil {
		return nil, nil, err
	}
	perElement, err := s.param("jobs_per_element", 1)
	if err != nil {
		return nil, nil, err
	}
	chunk := perJob * perElement

	if u.Task.MonteCarlo() {
		if in.TotalEvents <= 0 {
			return nil, nil, s.fail("production task needs a positive event total")
		}
		_, start := s.startAt()
		for start < in.TotalEvents {
			if s.full() {
				s.pause(0, start)
				return s.finish()
			}
			end := start + chunk
			if end > in.TotalEvents {
				end = in.TotalEvents
			}
			mask := &element.Mask{FirstEvent: start + 1, LastEvent: end}
			if err := s.emit(nil, mask, ceilDiv(end-start, perJob)); err != nil {
				return nil, nil, err
			}
			start = end
		}
		return s.finish()
	}

	startBlock, offset := s.startAt()
	for bi := startBlock; bi < len(in.Blocks); bi++ {
		b := in.Blocks[bi]
		var total int64
		for _, f := range b.Files {
			total += f.Events
		}
		start := int64(0)
		if bi == startBlock {
			start = offset
		}
		for start < total {
			if s.full() {
				s.pause(bi, start)
				return s.finish()
			}
			end := start + chunk
			if end > total {
				if b.Open {
					s.withhold(b.Name, start)
					break
				}
				end = total
			}
			mask := &element.Mask{FirstEvent: start + 1, LastEvent: end}
			if err := s.emit([]Block{b}, mask, ceilDiv(end-start, perJob)); err != nil {
				return nil, nil, err
			}
			start = end
		}
	}
	return s.finish()
}
