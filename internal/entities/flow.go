package entities

// FlowState is the current stage of a support conversation.
type FlowState string

const (
	StateGreeting              FlowState = "greeting"
	StateProblemIdentification FlowState = "problem_identification"
	StateTroubleshooting       FlowState = "troubleshooting"
	StateTicketCreation        FlowState = "ticket_creation"
	StateAppointmentScheduling FlowState = "appointment_scheduling"
	StateInformationGathering  FlowState = "information_gathering"
	StateClosing               FlowState = "closing"
)

// FlowStates lists every state in declaration order.
var FlowStates = []FlowState{
	StateGreeting,
	StateProblemIdentification,
	StateTroubleshooting,
	StateTicketCreation,
	StateAppointmentScheduling,
	StateInformationGathering,
	StateClosing,
}

func (s FlowState) Valid() bool {
	for _, known := range FlowStates {
		if s == known {
			return true
		}
	}
	return false
}

// ParseFlowState maps a stored tag to a FlowState, falling back to greeting
// for empty or unknown values.
func ParseFlowState(s string) FlowState {
	state := FlowState(s)
	if !state.Valid() {
		return StateGreeting
	}
	return state
}
