package dto

import "time"

type ProvisionResponse struct {
	RunID             string `json:"run_id"`
	State             string `json:"state"`
	PolicyName        string `json:"policy_name"`
	PolicyID          string `json:"policy_id,omitempty"`
	CredentialID      string `json:"credential_id,omitempty"`
	CredentialCreated bool   `json:"credential_created"`
	FailedStage       string `json:"failed_stage,omitempty"`
	Error             string `json:"error,omitempty"`
	DurationMS        int64  `json:"duration_ms"`
}

type RunInfo struct {
	ID                string    `json:"id"`
	PolicyName        string    `json:"policy_name"`
	PolicyID          string    `json:"policy_id,omitempty"`
	State             string    `json:"state"`
	FailedStage       string    `json:"failed_stage,omitempty"`
	CredentialCreated bool      `json:"credential_created"`
	Error             string    `json:"error,omitempty"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
}

type ListRunsResponse struct {
	Runs  []RunInfo `json:"runs"`
	Count int       `json:"count"`
}
