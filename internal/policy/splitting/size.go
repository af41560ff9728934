package splitting

import (
	"github.com/dmwm/workqueue/internal/element"
)

// SizeBased packs consecutive files of a block into elements no larger than
// size_per_element bytes. A file larger than the bound gets an element of its
// own. Jobs are estimated as ceil(bytes / size_per_job).
type SizeBased struct{}

func (SizeBased) Name() string { return "SizeBased" }

func (p SizeBased) Split(u Unit, in *Input, cont *Continuation, opts Options) ([]*element.Element, *Continuation, error) {
	s := newSplitter(p.Name(), u, in, cont, opts)
	if err := s.requireInput(); err != nil {
		return nil, nil, err
	}
	perJob, err := s.param("size_per_job", 0)
	if err != nil {
		return nil, nil, err
	}
	bound, err := s.param("size_per_element", perJob)
	if err != nil {
		return nil, nil, err
	}

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
			end := start
			var size int64
			for end < n {
				fs := b.Files[end].Size
				if end > start && size+fs > bound {
					break
				}
				size += fs
				end++
			}
			if end == n && b.Open && size < bound {
				s.withhold(b.Name, start)
				break
			}
			jobs := ceilDiv(size, perJob)
			if jobs == 0 {
				jobs = 1
			}
			mask := &element.Mask{FirstFile: int(start) + 1, LastFile: int(end)}
			if err := s.emit([]Block{b}, mask, jobs); err != nil {
				return nil, nil, err
			}
			start = end
		}
	}
	return s.finish()
}
