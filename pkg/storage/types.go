package storage

import "time"

// Plan statuses.
const (
	PlanStatusDraft     = "draft"
	PlanStatusReady     = "ready"
	PlanStatusExecuting = "executing"
	PlanStatusDone      = "done"
)

// Item statuses.
const (
	ItemStatusPending   = "pending"
	ItemStatusSucceeded = "succeeded"
	ItemStatusFailed    = "failed"
	ItemStatusSkipped   = "skipped"
)

// Plan is a persisted cleanup plan header.
type Plan struct {
	ID                 string
	Name               string
	ScanType           string
	ScanTarget         string
	Status             string
	TotalItems         int
	SafeItems          int
	SuspiciousItems    int
	DangerousItems     int
	TotalSize          int64
	EstimatedFreedSize int64
	AICallCount        int
	UsedRulesOnly      bool
	CreatedAt          time.Time
	AnalyzedAt         time.Time // zero when analysis never completed
}

// Item is one classified cleanup candidate inside a plan.
type Item struct {
	ID             int64
	PlanID         string
	Path           string
	Name           string
	SizeBytes      int64
	IsDir          bool
	RiskLevel      string
	RiskScore      int
	Confidence     float64
	Method         string
	Source         string
	Recommendation string
	Reason         string // resolved from the deduplicated reason table
	Status         string
	RetryCount     int
}

// Execution is a persisted run of the cleanup executor over a plan.
type Execution struct {
	ID           string
	PlanID       string
	Status       string
	TotalItems   int
	SuccessItems int
	FailedItems  int
	SkippedItems int
	TotalSize    int64
	FreedSize    int64
	FailedSize   int64
	StartedAt    time.Time
	CompletedAt  time.Time
	ErrorMessage string
}

// Failure is one failed item of an execution.
type Failure struct {
	ExecutionID     string
	Path            string
	ErrorType       string
	Message         string
	SuggestedAction string
}

// RecoveryRecord links a removed item to its backup so it can be
// restored later.
type RecoveryRecord struct {
	ID           string
	PlanID       string
	ItemID       int64
	OriginalPath string
	BackupPath   string // empty when no backup was made
	BackupType   string // none | hardlink | full
	Compressed   bool
	Restored     bool
	CreatedAt    time.Time
}
