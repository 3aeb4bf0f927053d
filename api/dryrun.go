package api

import "time"

// DryRunResult reports what a migration did inside a transaction that was
// rolled back. EstimatedProductionTime and LockedTables are advisory
// estimates sampled during the simulation, not measured guarantees; timing
// under production load can differ, and Confidence expresses how much.
type DryRunResult struct {
	Version                 string        `json:"version"`
	Name                    string        `json:"name"`
	Success                 bool          `json:"success"`
	ExecutionTime           time.Duration `json:"executionTime"`
	RowsAffected            int64         `json:"rowsAffected"`
	LockedTables            []string      `json:"lockedTables,omitempty"`
	EstimatedProductionTime time.Duration `json:"estimatedProductionTime"`
	ConfidencePercent       int           `json:"confidencePercent"`
	Warnings                []string      `json:"warnings,omitempty"`
}
