package schema

// AgentRole identifies the specialty of a swarm agent.
type AgentRole string

const (
	RoleScout        AgentRole = "scout"
	RoleAnalyst      AgentRole = "analyst"
	RoleNewsHound    AgentRole = "news_hound"
	RoleStrategist   AgentRole = "strategist"
	RoleIngestion    AgentRole = "ingestion"
	RoleQuantitative AgentRole = "quantitative"
	RoleSynthesis    AgentRole = "synthesis"
	RoleRisk         AgentRole = "risk"
)

var allRoles = map[AgentRole]struct{}{
	RoleScout:        {},
	RoleAnalyst:      {},
	RoleNewsHound:    {},
	RoleStrategist:   {},
	RoleIngestion:    {},
	RoleQuantitative: {},
	RoleSynthesis:    {},
	RoleRisk:         {},
}

func (r AgentRole) Valid() bool {
	_, ok := allRoles[r]
	return ok
}

// AgentState is the lifecycle status an agent reports about itself.
type AgentState string

const (
	StateIdle       AgentState = "idle"
	StateActive     AgentState = "active"
	StateProcessing AgentState = "processing"
	StateError      AgentState = "error"
)

func (s AgentState) Valid() bool {
	switch s {
	case StateIdle, StateActive, StateProcessing, StateError:
		return true
	}
	return false
}
