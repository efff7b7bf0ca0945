package models

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned by stores when a unique key is already taken.
	ErrDuplicate = errors.New("record already exists")
)

// SchemaDefinition is a user registered API. Name doubles as the document
// collection name.
type SchemaDefinition struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	SchemaJSON string    `json:"schemaJson"`
	CreatedBy  string    `json:"createdBy"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type Operation string

const (
	OpCreate  Operation = "CREATE"
	OpReadAll Operation = "READ_ALL"
	OpSearch  Operation = "SEARCH"
	OpUpdate  Operation = "UPDATE"
	OpDelete  Operation = "DELETE"
)

// UsageRecord is one audited engine operation. Records are append-only.
type UsageRecord struct {
	ID             int64     `json:"id,omitempty"`
	UserID         string    `json:"userId"`
	APIName        string    `json:"apiName"`
	Operation      Operation `json:"operation"`
	Status         int       `json:"status"`
	ResponseTimeMs int64     `json:"responseTime"`
	Timestamp      time.Time `json:"timestamp"`
}

const (
	TierFree       = "free"
	TierPremium    = "premium"
	TierEnterprise = "enterprise"
)

// User owns an API key and a subscription tier.
type User struct {
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	APIKey    string    `json:"api_key"`
	Tier      string    `json:"tier"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UsageAnalytics is a persisted per API, per operation aggregate.
type UsageAnalytics struct {
	APIName           string    `json:"api_name"`
	Operation         Operation `json:"operation"`
	Calls             int64     `json:"calls"`
	Errors            int64     `json:"errors"`
	AvgResponseTimeMs float64   `json:"avg_response_time_ms"`
	LastCall          time.Time `json:"last_call"`
}
