package rankstep

import "github.com/rankstep/rankstep/internal/pkg/rsfs"

// Phase is a descriptor of the phase (i.e. Map or Reduce) of a Job
type Phase int

// Descriptors of the Job phases
const (
	MapPhase Phase = iota
	ReducePhase
)

// task defines a serialized description of a single unit of work
// in a MapReduce job, as well as the necessary information for a
// remote executor to initialize itself and begin working.
type task struct {
	Phase            Phase
	BinID            uint
	IntermediateBins uint
	Splits           []inputSplit
	FileSystemType   rsfs.FileSystemType
	WorkingLocation  string
	RunID            string
}

type taskResult struct {
	BytesRead    int64
	BytesWritten int64
}
