package imap

import "fmt"

// State is the position of a session in the retrieval sequence. Sessions
// only move forward.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateAuthenticated
	StateSelected
	StateSearched
	StateFetched
	StateClosed
)

var stateNames = [...]string{
	StateDisconnected:  "disconnected",
	StateConnected:     "connected",
	StateAuthenticated: "authenticated",
	StateSelected:      "selected",
	StateSearched:      "searched",
	StateFetched:       "fetched",
	StateClosed:        "closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// predecessor maps each state to the only state it may be entered from.
// StateClosed is reachable from any state through Close.
var predecessor = map[State]State{
	StateConnected:     StateDisconnected,
	StateAuthenticated: StateConnected,
	StateSelected:      StateAuthenticated,
	StateSearched:      StateSelected,
	StateFetched:       StateSearched,
}

// StateError is returned when an operation is called out of order. Nothing
// is written to the wire in that case.
type StateError struct {
	Op      string
	Current State
	Want    State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("imap %s: session is %s, want %s", e.Op, e.Current, e.Want)
}

// require checks that the session may move to next.
func (c *Client) require(op string, next State) error {
	want, ok := predecessor[next]
	if !ok || c.state != want {
		return &StateError{Op: op, Current: c.state, Want: want}
	}
	return nil
}
