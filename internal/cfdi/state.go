package cfdi

import "fmt"

// State is the reconciliation state of a document: Active{fully settled or not} or Cancelled.
type State struct {
	Status       Status
	FullySettled bool
}

type event int

const (
	eventSettled event = iota + 1
	eventCancel
)

func (e event) String() string {
	switch e {
	case eventSettled:
		return "settled"
	case eventCancel:
		return "cancel"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// next applies a transition. Cancelled is terminal; settlement only moves false to true.
func (s State) next(ev event) (State, error) {
	if s.Status == StatusCancelled {
		if ev == eventCancel {
			return s, ErrAlreadyCancelled
		}
		return s, ErrDocumentCancelled
	}
	switch ev {
	case eventSettled:
		s.FullySettled = true
	case eventCancel:
		s.Status = StatusCancelled
	default:
		return s, fmt.Errorf("cfdi: unknown transition %s", ev)
	}
	return s, nil
}

// State reports the document's reconciliation state.
func (d *Document) State() State {
	return State{Status: d.state.Status, FullySettled: d.state.FullySettled}
}

func (d *Document) setState(s State) {
	d.state.Status = s.Status
	d.state.FullySettled = s.FullySettled
}
