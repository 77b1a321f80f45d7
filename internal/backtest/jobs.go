package backtest

import (
	"slices"
	"sync"
	"time"
)

const (
	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusPartial = "partial"
	JobStatusFailed  = "failed"
)

// FetchParams selects the candles a fetch job downloads. Start and End are
// open times in milliseconds.
type FetchParams struct {
	Exchange  string `json:"exchange"`
	Symbol    string `json:"symbol" binding:"required"`
	Timeframe string `json:"timeframe" binding:"required"`
	Start     int64  `json:"start" binding:"required"`
	End       int64  `json:"end" binding:"required"`
}

// FetchJob is the progress of one asynchronous download.
type FetchJob struct {
	ID        string      `json:"id"`
	Status    string      `json:"status"`
	Params    FetchParams `json:"params"`
	Total     int64       `json:"total"`
	Completed int64       `json:"completed"`
	Message   string      `json:"message,omitempty"`
	Warnings  []string    `json:"warnings,omitempty"`
	Missing   []Gap       `json:"missing,omitempty"`
	StartedAt time.Time   `json:"started_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func (j FetchJob) clone() FetchJob {
	j.Warnings = slices.Clone(j.Warnings)
	j.Missing = slices.Clone(j.Missing)
	return j
}

// jobBook holds fetch jobs by id. Readers always get copies.
type jobBook struct {
	mu   sync.RWMutex
	jobs map[string]*FetchJob
}

func newJobBook() *jobBook {
	return &jobBook{jobs: make(map[string]*FetchJob)}
}

func (b *jobBook) add(job *FetchJob) {
	b.mu.Lock()
	b.jobs[job.ID] = job
	b.mu.Unlock()
}

// mutate applies fn under the lock and stamps UpdatedAt.
func (b *jobBook) mutate(id string, fn func(*FetchJob)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if job, ok := b.jobs[id]; ok {
		fn(job)
		job.UpdatedAt = time.Now()
	}
}

func (b *jobBook) finish(id, status, message string, missing []Gap, warnings []string) {
	b.mutate(id, func(j *FetchJob) {
		j.Status = status
		j.Message = message
		j.Missing = slices.Clone(missing)
		if len(warnings) > 0 {
			j.Warnings = slices.Clone(warnings)
		}
	})
}

func (b *jobBook) get(id string) (FetchJob, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	job, ok := b.jobs[id]
	if !ok {
		return FetchJob{}, false
	}
	return job.clone(), true
}

// list returns every job, oldest first.
func (b *jobBook) list() []FetchJob {
	b.mu.RLock()
	out := make([]FetchJob, 0, len(b.jobs))
	for _, job := range b.jobs {
		out = append(out, job.clone())
	}
	b.mu.RUnlock()
	slices.SortFunc(out, func(x, y FetchJob) int {
		return x.StartedAt.Compare(y.StartedAt)
	})
	return out
}
