package trading

import "sync"

type StateMachine struct {
	mu    sync.Mutex
	state State
}

func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateInit}
}

func (s *StateMachine) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *StateMachine) Apply(event Event) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nextState(s.state, event)
	return s.state
}

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted
}

func nextState(current State, event Event) State {
	if current.Terminal() {
		return current
	}
	if event == EventAbort {
		return StateAborted
	}
	switch current {
	case StateInit:
		if event == EventStart {
			return StateQuoting
		}
	case StateQuoting:
		switch event {
		case EventQuote:
			return StateSubmitting
		case EventSpreadCollapse:
			return StateQuoting
		case EventFinished:
			return StateCompleted
		}
	case StateSubmitting:
		if event == EventSubmitted {
			return StateReconciling
		}
	case StateReconciling:
		switch event {
		case EventBalanced:
			return StateQuoting
		case EventFinished:
			return StateCompleted
		}
	}
	return current
}
