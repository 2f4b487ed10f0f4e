package core

import (
	"errors"
	"time"
)

// Sentinel errors.
var (
	ErrUnknownFileType = errors.New("no layout configured for file type")
	ErrRunInProgress   = errors.New("a load run is already in progress")
	ErrRunNotFound     = errors.New("run not found")
	ErrInvalidOptions  = errors.New("invalid load options")
)

// LoadStatus is the outcome of one file load.
type LoadStatus string

const (
	StatusSuccess LoadStatus = "SUCCESS"
	StatusFailed  LoadStatus = "FAILED"
)

// LoadResult describes one file-type load. Every processed file type yields
// exactly one LoadResult.
type LoadResult struct {
	RunID        string        `json:"runId,omitempty"`
	FileType     string        `json:"fileType"`
	FileName     string        `json:"fileName"`
	Table        string        `json:"table"`
	Status       LoadStatus    `json:"status"`
	Inserted     int64         `json:"inserted"`
	Skipped      int64         `json:"skipped"`
	LinesDropped int           `json:"linesDropped"`
	Duration     time.Duration `json:"duration"`
	Error        string        `json:"error,omitempty"`
	ErrorCode    string        `json:"errorCode,omitempty"`
	CompletedAt  time.Time     `json:"completedAt"`
}

// Succeeded reports whether the load completed.
func (r LoadResult) Succeeded() bool { return r.Status == StatusSuccess }

// RunSummary aggregates the results of one run.
type RunSummary struct {
	TotalFiles   int   `json:"totalFiles"`
	Successful   int   `json:"successful"`
	Failed       int   `json:"failed"`
	TotalRecords int64 `json:"totalRecords"` // inserted rows of successful files only
	TotalSkipped int64 `json:"totalSkipped"`
	// TotalDuration sums per-file durations; with parallel tiers it exceeds
	// wall time.
	TotalDuration time.Duration `json:"totalDuration"`
	FailedFiles   []string      `json:"failedFiles"`
}

// Summarize aggregates results in order.
func Summarize(results []LoadResult) RunSummary {
	sum := RunSummary{TotalFiles: len(results), FailedFiles: []string{}}
	for _, r := range results {
		sum.TotalDuration += r.Duration
		sum.TotalSkipped += r.Skipped
		if r.Succeeded() {
			sum.Successful++
			sum.TotalRecords += r.Inserted
			continue
		}
		sum.Failed++
		sum.FailedFiles = append(sum.FailedFiles, r.FileType)
	}
	return sum
}

// Run triggers recorded in LoadOptions.Trigger.
const (
	TriggerCLI = "cli"
	TriggerAPI = "api"
)

// LoadOptions select what a run loads.
type LoadOptions struct {
	// FileTypes to load. Empty means every file type in the catalog.
	FileTypes []string `json:"fileTypes,omitempty"`
	// Truncate empties each destination table before loading it.
	Truncate bool `json:"truncate"`
	// MaxRecords caps the records read per file. 0 means no cap.
	MaxRecords int `json:"maxRecords,omitempty"`
	// Trigger records what started the run: cli, api or schedule.
	Trigger string `json:"trigger,omitempty"`
}

// RunState is the lifecycle state of a run.
type RunState string

const (
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
)

// Run is a recorded load run.
type Run struct {
	ID         string        `json:"id"`
	State      RunState      `json:"state"`
	Options    LoadOptions   `json:"options"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt *time.Time    `json:"finishedAt,omitempty"`
	WallTime   time.Duration `json:"wallTime"`
	Summary    *RunSummary   `json:"summary,omitempty"`
	Results    []LoadResult  `json:"results,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// TableCount is a row count for one destination table.
type TableCount struct {
	FileType string `json:"fileType"`
	Table    string `json:"table"`
	Rows     int64  `json:"rows"` // -1 when the count failed
	Error    string `json:"error,omitempty"`
}

// FileStatus pairs a catalog file type with its presence in the source.
type FileStatus struct {
	FileType string `json:"fileType"`
	Table    string `json:"table"`
	FileName string `json:"fileName"`
	Present  bool   `json:"present"`
	Size     int64  `json:"size,omitempty"`
}
