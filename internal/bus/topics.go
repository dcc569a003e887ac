package bus

// Agent lifecycle topics.
const (
	TopicAgentSpawned    = "agent.spawned"
	TopicAgentReconciled = "agent.reconciled"
	TopicAgentAbandoned  = "agent.abandoned"
)

// Completion pipeline topics.
const (
	TopicPipelineStage  = "pipeline.stage"
	TopicPipelineDone   = "pipeline.done"
	TopicPipelineFailed = "pipeline.failed"
)

// AgentEvent is published on agent lifecycle transitions.
type AgentEvent struct {
	AgentID   string // Registry record id
	IssueID   string // External issue id, if any
	Transport string // terminal or http_session
	Status    string // Record status after the transition
}

// StageEvent is published as the completion pipeline advances or fails.
type StageEvent struct {
	AgentID string // Registry record id
	Stage   string // Pipeline stage name (e.g. VERIFYING_PHASE)
	Error   string // Failure detail, empty on a pass
}
