package queue

import (
	"time"
)

// JobKind identifies which loop owns a job.
type JobKind string

const (
	KindDiscover JobKind = "discover"
	KindMigrate  JobKind = "migrate"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobPaused    JobStatus = "paused"
	JobStopped   JobStatus = "stopped"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStopped || s == JobCompleted || s == JobFailed
}

// CanTransitionTo validates an operator-driven transition. Workers use
// compare-and-swap updates instead and never consult this.
func (s JobStatus) CanTransitionTo(to JobStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case JobRunning:
		return to == JobPaused || to == JobStopped || to == JobCompleted || to == JobFailed
	case JobPaused:
		return to == JobRunning || to == JobStopped
	}
	return false
}

// Job is one discovery or migration run. Terminal rows are never reused;
// a later run creates a fresh job.
type Job struct {
	ID            string    `json:"id"`
	Kind          JobKind   `json:"kind"`
	Status        JobStatus `json:"status"`
	Note          string    `json:"note,omitempty"`
	WorkerID      string    `json:"worker_id,omitempty"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Progress holds the per-job counters. Counters are only ever mutated by
// atomic additive updates in the store, never assigned from worker memory.
type Progress struct {
	JobID         string    `json:"job_id"`
	TotalBytes    int64     `json:"total_bytes"`
	TotalFiles    int64     `json:"total_files"`
	ScannedDirs   int64     `json:"scanned_dirs"`
	MigratedFiles int64     `json:"migrated_files"`
	FailedFiles   int64     `json:"failed_files"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ProgressDelta is a signed set of counter increments.
type ProgressDelta struct {
	TotalBytes    int64
	TotalFiles    int64
	ScannedDirs   int64
	MigratedFiles int64
	FailedFiles   int64
}

// FrontierStatus tracks a directory through discovery.
type FrontierStatus string

const (
	FrontierQueued  FrontierStatus = "queued"
	FrontierClaimed FrontierStatus = "claimed"
	FrontierDone    FrontierStatus = "done"
	FrontierFailed  FrontierStatus = "failed"
)

// FrontierEntry is a directory awaiting or undergoing listing. Paths carry a
// trailing separator; the path uniqueness constraint is the de-duplication
// mechanism for concurrent discovery.
type FrontierEntry struct {
	Path       string         `json:"path"`
	ParentPath string         `json:"parent_path,omitempty"`
	Status     FrontierStatus `json:"status"`
	ClaimedAt  *time.Time     `json:"claimed_at,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// FileStatus tracks an inventory entry through migration.
type FileStatus string

const (
	FilePending    FileStatus = "pending"
	FileScanned    FileStatus = "scanned"
	FileInProgress FileStatus = "in_progress"
	FileMigrated   FileStatus = "migrated"
	FileFailed     FileStatus = "failed"
)

// InventoryEntry is one discovered file or directory. Directories are
// recorded as scanned and never claimed for transfer.
type InventoryEntry struct {
	Path        string     `json:"path"`
	IsDir       bool       `json:"is_dir"`
	ParentPath  string     `json:"parent_path,omitempty"`
	Size        int64      `json:"size"`
	ContentType string     `json:"content_type,omitempty"`
	SourceURL   string     `json:"source_url,omitempty"`
	Status      FileStatus `json:"status"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	ClaimedBy   string     `json:"claimed_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TransferStatus is the outcome recorded in the transfer log.
type TransferStatus string

const (
	TransferPending TransferStatus = "pending"
	TransferSuccess TransferStatus = "success"
	TransferFailed  TransferStatus = "failed"
)

// TransferLog is one append-only audit row per final transfer outcome.
type TransferLog struct {
	ID         string         `json:"id"`
	JobID      string         `json:"job_id"`
	Path       string         `json:"path"`
	DestPath   string         `json:"dest_path"`
	Status     TransferStatus `json:"status"`
	Attempts   int            `json:"attempts"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"duration_ms"`
	CreatedAt  time.Time      `json:"created_at"`
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	Kind   JobKind
	Status JobStatus
}

// InventoryFilter narrows ListInventory.
type InventoryFilter struct {
	Status FileStatus
	Prefix string
	Limit  int
}
