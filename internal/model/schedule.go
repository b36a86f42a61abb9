package model

import "time"

// RunSchedule represents a recurring profiling run
type RunSchedule struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Expression  string     `json:"expression"`
	CodeID      string     `json:"code_id"`
	LastRunTime *time.Time `json:"last_run_time,omitempty"`
	NextRunTime *time.Time `json:"next_run_time,omitempty"`
	LastScore   int        `json:"last_score"`
	CreatedAt   time.Time  `json:"created_at"`
}
