package transaction

// State is the outcome of a transaction as the transaction itself sees it
// the outcome other transactions (and vacuum) see is recorded in clog
type State uint

const (
	StateInProgress State = iota
	StateCommitted
	StateAborted
)

// IsCompleted reports whether the transaction has finished, either way
func (s State) IsCompleted() bool {
	return s == StateCommitted || s == StateAborted
}

func (s State) String() string {
	switch s {
	case StateInProgress:
		return "in progress"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}
