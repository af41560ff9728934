package splitting

import (
	"github.com/dmwm/workqueue/internal/element"
)

// FileBased groups files_per_job * jobs_per_element consecutive files of a
// block into one element.
type FileBased struct{}

func (FileBased) Name() string { return "FileBased" }

func (p FileBased) Split(u Unit, in *Input, cont *Continuation, opts Options) ([]*element.Element, *Continuation, error) {
	s := newSplitter(p.Name(), u, in, cont, opts)
	if err := s.requireInput(); err != nil {
		return nil, nil, err
	}
	perJob, err := s.param("files_per_job", 0)
	if err != nil {
		return nil, nil, err
	}
	perElement, err := s.param("jobs_per_element", 1)
	if err != nil {
		return nil, nil, err
	}
	chunk := perJob * perElement

	startBlock, offset := s.startAt()
	for bi := startBlock; bi < len(in.Blocks); bi++ {
		b := in.Blocks[bi]
		n := int64(len(b.Files))
		start := int64(0)
		if bi == startBlock {
			start = offset
		}
		for start < n {
			if s.full() {
				s.pause(bi, start)
				return s.finish()
			}
			end := start + chunk
			if end > n {
				if b.Open {
					s.withhold(b.Name, start)
					break
				}
				end = n
			}
			mask := &element.Mask{FirstFile: int(start) + 1, LastFile: int(end)}
			if err := s.emit([]Block{b}, mask, ceilDiv(end-start, perJob)); err != nil {
				return nil, nil, err
			}
			start = end
		}
	}
	return s.finish()
}
