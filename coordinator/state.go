package coordinator

// State identifies the coordinator's current position in the block
// lifecycle. The machine runs forever; there is no terminal state.
type State int

const (
	// StateReload runs once at startup and restores on-disk state.
	StateReload State = iota
	// StateSynchronising reconciles the heaviest block against the last
	// processed block.
	StateSynchronising
	// StateSynchronised is the steady state: fully caught up, possibly
	// waiting for the next block production deadline.
	StateSynchronised

	// Pipeline A: adopt a block produced elsewhere.
	StatePreExecValidation
	StateSynergeticExecution
	StateWaitForTransactions
	StateScheduleExecution
	StateWaitForExecution
	StatePostExecValidation

	// Pipeline B: produce a new block.
	StateNewSynergeticExecution
	StatePackNewBlock
	StateExecuteNewBlock
	StateWaitForNewBlockExecution
	StateProofSearch
	StateTransmitBlock

	// StateReset clears all in-flight state and returns to synchronising.
	StateReset
)

func (s State) String() string {
	switch s {
	case StateReload:
		return "Reloading State"
	case StateSynchronising:
		return "Synchronising"
	case StateSynchronised:
		return "Synchronised"
	case StatePreExecValidation:
		return "Pre Block Execution Validation"
	case StateSynergeticExecution:
		return "Synergetic Execution"
	case StateWaitForTransactions:
		return "Waiting for Transactions"
	case StateScheduleExecution:
		return "Schedule Block Execution"
	case StateWaitForExecution:
		return "Waiting for Block Execution"
	case StatePostExecValidation:
		return "Post Block Execution Validation"
	case StateNewSynergeticExecution:
		return "New Synergetic Execution"
	case StatePackNewBlock:
		return "Pack New Block"
	case StateExecuteNewBlock:
		return "Execute New Block"
	case StateWaitForNewBlockExecution:
		return "Waiting for New Block Execution"
	case StateProofSearch:
		return "Searching for Proof"
	case StateTransmitBlock:
		return "Transmitting Block"
	case StateReset:
		return "Reset"
	}
	return "Unknown"
}

// executionStatus is the coordinator's simplified view of the execution
// manager's reported state.
type executionStatus int

const (
	executionIdle executionStatus = iota
	executionRunning
	executionStalled
	executionError
)

func (s executionStatus) String() string {
	switch s {
	case executionIdle:
		return "Idle"
	case executionRunning:
		return "Running"
	case executionStalled:
		return "Stalled"
	case executionError:
		return "Error"
	}
	return "Unknown"
}
