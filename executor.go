package rankstep

// executor runs the tasks of one phase. Tasks of a phase may run
// concurrently and share nothing but the job's file system.
type executor interface {
	RunMapper(job *Job, binID uint, inputSplits []inputSplit) error
	RunReducer(job *Job, binID uint) error
}

// localExecutor runs tasks in the driver's process
type localExecutor struct{}

func (localExecutor) RunMapper(job *Job, binID uint, inputSplits []inputSplit) error {
	return job.runMapper(binID, inputSplits)
}

func (localExecutor) RunReducer(job *Job, binID uint) error {
	return job.runReducer(binID)
}
