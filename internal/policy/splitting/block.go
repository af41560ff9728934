package splitting

import (
	"github.com/dmwm/workqueue/internal/element"
)

// BlockBased makes one element per closed block. Open blocks are withheld
// whole.
type BlockBased struct{}

func (BlockBased) Name() string { return "Block" }

func (p BlockBased) Split(u Unit, in *Input, cont *Continuation, opts Options) ([]*element.Element, *Continuation, error) {
	s := newSplitter(p.Name(), u, in, cont, opts)
	if err := s.requireInput(); err != nil {
		return nil, nil, err
	}
	perJob, err := s.param("files_per_job", 1)
	if err != nil {
		return nil, nil, err
	}

	startBlock, _ := s.startAt()
	for bi := startBlock; bi < len(in.Blocks); bi++ {
		b := in.Blocks[bi]
		if len(b.Files) == 0 {
			continue
		}
		if b.Open {
			s.withhold(b.Name, 0)
			continue
		}
		if s.full() {
			s.pause(bi, 0)
			return s.finish()
		}
		if err := s.emit([]Block{b}, nil, ceilDiv(int64(len(b.Files)), perJob)); err != nil {
			return nil, nil, err
		}
	}
	return s.finish()
}
