// Package services defines the health state shared by every pipeline
// service. Each service owns its own state and is the only writer.
package services

import "fmt"

// Kind enumerates the health states a pipeline service can report.
type Kind int

const (
	StatePending Kind = iota
	StateLoading
	StateSuccess
	StateDisabled
	StateException
)

func (k Kind) String() string {
	switch k {
	case StatePending:
		return "pending"
	case StateLoading:
		return "loading"
	case StateSuccess:
		return "success"
	case StateDisabled:
		return "disabled"
	case StateException:
		return "exception"
	default:
		return "unknown"
	}
}

// State is the observable health of one pipeline service. Disabled is not
// an error: the stage was intentionally turned off.
type State struct {
	Kind Kind
	Err  error
}

func Pending() State  { return State{Kind: StatePending} }
func Loading() State  { return State{Kind: StateLoading} }
func Success() State  { return State{Kind: StateSuccess} }
func Disabled() State { return State{Kind: StateDisabled} }

// Exception wraps a failure cause into a service state.
func Exception(err error) State { return State{Kind: StateException, Err: err} }

func (s State) String() string {
	if s.Kind == StateException && s.Err != nil {
		return fmt.Sprintf("exception: %v", s.Err)
	}
	return s.Kind.String()
}

// MarshalJSON renders the state for the health endpoint.
func (s State) MarshalJSON() ([]byte, error) {
	if s.Kind == StateException && s.Err != nil {
		return []byte(fmt.Sprintf("%q", s.String())), nil
	}
	return []byte(fmt.Sprintf("%q", s.Kind.String())), nil
}
