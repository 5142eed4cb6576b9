package models

import "time"

// ResultSource tells the caller where a result came from.
type ResultSource string

const (
	SourceRemote ResultSource = "remote"
	SourceCache  ResultSource = "cache"
)

// Field describes a result column.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// QueryResult is the tabular output of a query.
type QueryResult struct {
	Schema         []Field          `json:"schema"`
	Rows           []map[string]any `json:"rows"`
	TotalRows      int64            `json:"total_rows"`
	BytesProcessed int64            `json:"bytes_processed"`
	Source         ResultSource     `json:"source"`
	QueryHash      string           `json:"query_hash"`
	EstimatedCost  float64          `json:"estimated_cost"`
	ExecutionTime  time.Duration    `json:"execution_time"`
	CachedAt       *time.Time       `json:"cached_at,omitempty"`
}
