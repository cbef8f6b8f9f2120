package subscription

type state int

const (
	stateIdle state = iota
	stateOpening
	stateLive
	stateFailed
	stateRetrying
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateOpening:
		return "opening"
	case stateLive:
		return "live"
	case stateFailed:
		return "failed"
	case stateRetrying:
		return "retrying"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
