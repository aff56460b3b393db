package indexer

// State is a coordinator state.
type State int32

const (
	Starting State = iota
	Streaming
	Reconciling
	Flushing
	Backoff
	Fatal
	// Stopped is reached on operator shutdown after the best-effort flush.
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Streaming:
		return "streaming"
	case Reconciling:
		return "reconciling"
	case Flushing:
		return "flushing"
	case Backoff:
		return "backoff"
	case Fatal:
		return "fatal"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

var transitions = map[State][]State{
	Starting:    {Streaming, Fatal, Stopped},
	Streaming:   {Flushing, Reconciling, Fatal, Stopped},
	Reconciling: {Streaming, Flushing, Backoff, Fatal, Stopped},
	Flushing:    {Streaming, Backoff, Fatal, Stopped},
	Backoff:     {Flushing, Reconciling, Fatal, Stopped},
	Fatal:       nil,
	Stopped:     nil,
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
