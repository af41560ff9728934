package splitting

import (
	"sort"

	"github.com/dmwm/workqueue/internal/element"
)

// RunBased makes one element per run per block. files_per_job, when set,
// drives the job estimate; otherwise each run is one job. The highest run of
// an open block is withheld since more of its files may still arrive.
type RunBased struct{}

func (RunBased) Name() string { return "RunBased" }

func (p RunBased) Split(u Unit, in *Input, cont *Continuation, opts Options) ([]*element.Element, *Continuation, error) {
	s := newSplitter(p.Name(), u, in, cont, opts)
	if err := s.requireInput(); err != nil {
		return nil, nil, err
	}
	var perJob int64
	if _, ok := u.Task.SplittingParams["files_per_job"]; ok {
		v, err := s.param("files_per_job", 0)
		if err != nil {
			return nil, nil, err
		}
		perJob = v
	}

	startBlock, offset := s.startAt()
	for bi := startBlock; bi < len(in.Blocks); bi++ {
		b := in.Blocks[bi]
		counts := map[int64]int64{}
		for _, f := range b.Files {
			counts[f.Run]++
		}
		runs := make([]int64, 0, len(counts))
		for r := range counts {
			runs = append(runs, r)
		}
		sort.Slice(runs, func(i, j int) bool { return runs[i] < runs[j] })

		start := int64(0)
		if bi == startBlock {
			start = offset
		}
		for ri := start; ri < int64(len(runs)); ri++ {
			if s.full() {
				s.pause(bi, ri)
				return s.finish()
			}
			if b.Open && ri == int64(len(runs))-1 {
				s.withhold(b.Name, ri)
				break
			}
			run := runs[ri]
			jobs := int64(1)
			if perJob > 0 {
				jobs = ceilDiv(counts[run], perJob)
			}
			mask := &element.Mask{FirstRun: run, LastRun: run}
			if err := s.emit([]Block{b}, mask, jobs); err != nil {
				return nil, nil, err
			}
		}
	}
	return s.finish()
}
