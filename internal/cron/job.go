// Package cron runs scheduled prompts through the agent, for recurring
// reports like a daily cost summary.
package cron

import (
	"time"

	"github.com/google/uuid"
)

// Schedule is a cron expression (Kind "cron", with seconds), a fixed
// interval (Kind "every"), or a one-shot wall-clock time (Kind "at").
type Schedule struct {
	Kind    string `json:"kind"`
	Expr    string `json:"expr,omitempty"`
	EveryMs int64  `json:"everyMs,omitempty"`
	AtMs    int64  `json:"atMs,omitempty"`
}

// Payload is what a firing job does: run Message through the agent and,
// when Deliver is set, push the result to a chat channel.
type Payload struct {
	Message string `json:"message"`
	Deliver bool   `json:"deliver,omitempty"`
	Channel string `json:"channel,omitempty"`
	To      string `json:"to,omitempty"`
}

// JobState tracks the last execution.
type JobState struct {
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"`
	LastError   string `json:"lastError,omitempty"`
}

type CronJob struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Schedule       Schedule `json:"schedule"`
	Payload        Payload  `json:"payload"`
	Enabled        bool     `json:"enabled"`
	DeleteAfterRun bool     `json:"deleteAfterRun,omitempty"`
	State          JobState `json:"state"`
	CreatedAtMs    int64    `json:"createdAtMs"`
}

func NewCronJob(name string, schedule Schedule, payload Payload) CronJob {
	return CronJob{
		ID:          uuid.NewString(),
		Name:        name,
		Schedule:    schedule,
		Payload:     payload,
		Enabled:     true,
		CreatedAtMs: time.Now().UnixMilli(),
	}
}
