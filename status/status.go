package status

//BatchStatus status of job or step execution
type BatchStatus string

const (
	//STARTING job or step execution has been created but not started
	STARTING BatchStatus = "STARTING"
	//STARTED job or step is running
	STARTED BatchStatus = "STARTED"
	//STOPPING job or step has been asked to stop
	STOPPING BatchStatus = "STOPPING"
	//STOPPED job or step was stopped before completion
	STOPPED BatchStatus = "STOPPED"
	//COMPLETED job or step finished successfully
	COMPLETED BatchStatus = "COMPLETED"
	//FAILED job or step finished with an error
	FAILED BatchStatus = "FAILED"
	//UNKNOWN job or step aborted for an unknown reason
	UNKNOWN BatchStatus = "UNKNOWN"
)

// severity order, a higher value wins in And
var statuses = map[BatchStatus]int{
	COMPLETED: 0,
	STARTING:  1,
	STARTED:   2,
	STOPPING:  3,
	STOPPED:   4,
	FAILED:    5,
	UNKNOWN:   6,
}

// And combines two statuses into the more severe one, e.g. COMPLETED.And(FAILED) is FAILED.
// An unrecognized status loses to a recognized one.
func (s BatchStatus) And(other BatchStatus) BatchStatus {
	i1, ok1 := statuses[s]
	i2, ok2 := statuses[other]
	switch {
	case ok1 && ok2:
		if i1 < i2 {
			return other
		}
		return s
	case ok1:
		return s
	default:
		return other
	}
}

// IsTerminal reports whether no further transition is expected
func (s BatchStatus) IsTerminal() bool {
	return s == COMPLETED || s == FAILED || s == STOPPED || s == UNKNOWN
}

// IsRunning reports whether the execution has been created and not yet reached a terminal state
func (s BatchStatus) IsRunning() bool {
	return s == STARTING || s == STARTED || s == STOPPING
}
