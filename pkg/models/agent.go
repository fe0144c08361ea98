package models

import "time"

// AgentStatus is the lifecycle state of a running Agent Loop.
type AgentStatus string

const (
	StatusIdle            AgentStatus = "idle"
	StatusComposing        AgentStatus = "composing"
	StatusThinking         AgentStatus = "thinking"
	StatusActing           AgentStatus = "acting"
	StatusWaitingApproval  AgentStatus = "waiting_approval"
	StatusPaused           AgentStatus = "paused"
	StatusComplete         AgentStatus = "complete"
	StatusError            AgentStatus = "error"
)

// AgentState is a snapshot of one Agent Loop's progress. No component
// in this repository fills it in or reports it; /cost does not use it.
type AgentState struct {
	AgentID    string      `json:"agent_id"`
	Status     AgentStatus `json:"status"`
	Iteration  int         `json:"iteration"`
	TokensUsed int64       `json:"tokens_used"`
	CostSoFar  float64     `json:"cost_so_far"`
	StartedAt  time.Time   `json:"started_at"`
}
