package models

// TurnStatus tracks the lifecycle of a turn. Terminal states are monotonic:
// once a turn leaves StatusActive it never becomes active again.
type TurnStatus string

const (
	TurnActive        TurnStatus = "ACTIVE"
	TurnCompleted     TurnStatus = "COMPLETED"
	TurnMaxIterations TurnStatus = "MAX_ITERATIONS"
	TurnError         TurnStatus = "ERROR"
)

// Turn records the state of one user utterance being processed: one or more
// provider streams (iterations) until the task completes or a budget trips.
type Turn struct {
	ID          string     `json:"id"`
	UserMessage string     `json:"user_message"`
	Iterations  int        `json:"iterations"`
	Status      TurnStatus `json:"status"`
	TotalTokens int        `json:"total_tokens"`
}

// Finish transitions the turn out of TurnActive. Transitions from a terminal
// status are ignored so the first terminal status wins.
func (t *Turn) Finish(status TurnStatus) {
	if t.Status != TurnActive {
		return
	}
	t.Status = status
}
