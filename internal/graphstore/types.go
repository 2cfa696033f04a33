package graphstore

import "time"

// TaskStatus is the Task.status vocabulary of spec §3 (I2): pending →
// in_progress → {completed|failed}, no back-edges.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// allowedTaskTransitions enforces I2 the way the teacher's persistence
// package enforces its own task state machine: an explicit allow-list
// rather than scattering status checks across call sites.
var allowedTaskTransitions = map[TaskStatus]map[TaskStatus]struct{}{
	TaskStatusPending:    {TaskStatusInProgress: {}},
	TaskStatusInProgress: {TaskStatusCompleted: {}, TaskStatusFailed: {}},
}

// ClaimOutcome is the three-way result of ClaimTask (spec §9 redesign note:
// replace exception-for-control-flow with a typed result).
type ClaimOutcome struct {
	Claimed        bool
	AlreadyClaimed bool
	ClaimedBy      string // set when AlreadyClaimed
	NotFound       bool
}

// Task mirrors the Task entity of spec §3.
type Task struct {
	ID            string
	Type          string
	Description   string
	Status        TaskStatus
	Priority      string
	DelegatedBy   string
	AssignedTo    string
	CreatedAt     time.Time
	ClaimedAt     *time.Time
	CompletedAt   *time.Time
	Results       string // opaque JSON blob
	ErrorMessage  string
}

// AgentRole is the Agent.role vocabulary of spec §3.
type AgentRole string

const (
	AgentRoleOrchestrator AgentRole = "orchestrator"
	AgentRoleSpecialist   AgentRole = "specialist"
)

// AgentStatus is the Agent.status vocabulary of spec §3.
type AgentStatus string

const (
	AgentStatusActive   AgentStatus = "active"
	AgentStatusDegraded AgentStatus = "degraded"
	AgentStatusInactive AgentStatus = "inactive"
)

// TrustLevel is the Agent.trust_level vocabulary of spec §3.
type TrustLevel string

const (
	TrustLow    TrustLevel = "LOW"
	TrustMedium TrustLevel = "MEDIUM"
	TrustHigh   TrustLevel = "HIGH"
)

// Agent mirrors the Agent entity of spec §3. The six agent ids are fixed
// (main, researcher, writer, developer, analyst, ops) and seeded at schema
// migration time; the core never creates or deletes an Agent row.
type Agent struct {
	ID             string
	Name           string
	Role           AgentRole
	TrustLevel     TrustLevel
	Status         AgentStatus
	InfraHeartbeat time.Time
	LastHeartbeat  time.Time
	CurrentTask    string // empty when none
}

// FixedAgentIDs is the closed set of agent identities spec §3 defines.
var FixedAgentIDs = []string{"main", "researcher", "writer", "developer", "analyst", "ops"}

// HeartbeatKind distinguishes the two heartbeat writers of spec §4.5.
type HeartbeatKind string

const (
	HeartbeatInfra      HeartbeatKind = "infra"
	HeartbeatFunctional HeartbeatKind = "functional"
)

// RateLimitCheck is the result of CheckRateLimit.
type RateLimitCheck struct {
	Allowed bool
	Count   int
}

// Notification mirrors the Notification entity of spec §3.
type Notification struct {
	ID        string
	Agent     string
	Type      string
	Summary   string
	TaskID    string
	Read      bool
	CreatedAt time.Time
}

// HeartbeatCycle mirrors the HeartbeatCycle entity of spec §3.
type HeartbeatCycle struct {
	CycleNumber     int64
	StartedAt       time.Time
	CompletedAt     *time.Time
	TasksRun        int
	TasksSucceeded  int
	TasksFailed     int
	TotalTokens     int
	DurationSeconds float64
}

// TaskResultStatus is the TaskResult.status vocabulary of spec §3.
type TaskResultStatus string

const (
	TaskResultSuccess       TaskResultStatus = "success"
	TaskResultError         TaskResultStatus = "error"
	TaskResultTimeout       TaskResultStatus = "timeout"
	TaskResultSkippedBudget TaskResultStatus = "skipped_budget"
)

// TaskResult mirrors the TaskResult entity of spec §3: one per handler
// invocation within a cycle.
type TaskResult struct {
	CycleNumber  int64
	Agent        string
	TaskName     string
	Status       TaskResultStatus
	StartedAt    time.Time
	CompletedAt  time.Time
	Summary      string
	ErrorMessage string
	TokensUsed   int
}

// MemoryTier is the MemoryEntry.tier vocabulary of spec §3.
type MemoryTier string

const (
	TierHot      MemoryTier = "HOT"
	TierWarm     MemoryTier = "WARM"
	TierCold     MemoryTier = "COLD"
	TierArchived MemoryTier = "ARCHIVED"
)

// MemoryEntry mirrors the MemoryEntry entity of spec §3 (and its
// polymorphic variants, which the core treats identically — the
// domain-specific payload is opaque to the graph store). The scoring
// inputs below (Tokens, IncidentRelationshipCount, DistinctAgents7d) are
// maintained by whatever process writes access patterns into the graph;
// the curation package only reads them.
type MemoryEntry struct {
	ID                      string
	Kind                    string // Belief, Reflection, Analysis, Synthesis, Research, LearnedCapability, SessionContext, CompressedContext
	Tier                    MemoryTier
	MVSScore                float64
	AccessCount7d           int
	LastAccessed            time.Time
	LastCuratedAt           *time.Time
	CurationAction          string
	Tombstone               bool
	DeletedAt               *time.Time
	Payload                 string // opaque JSON blob; may carry confidence/severity/reliability_score
	CreatedAt               time.Time
	Tokens                  int
	IncidentRelationshipCount int
	DistinctAgents7d        int
}

// protectedMVSThreshold is I5: a node at or above this score may not be
// deleted, merged away, or demoted by any curation action.
const protectedMVSThreshold = 50.0

// FailoverEvent mirrors the FailoverEvent entity of spec §3.
type FailoverEvent struct {
	ID             string
	TriggeredBy    string
	Reason         string
	ActivatedAt    time.Time
	DeactivatedAt  *time.Time
	Status         string // "active" or "resolved"
	MessagesRouted int
}

// AgentKey mirrors the AgentKey entity of spec §3.
type AgentKey struct {
	AgentID   string
	KeyHash   string
	CreatedAt time.Time
	ExpiresAt time.Time
	IsActive  bool
}
