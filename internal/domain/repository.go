package domain

import (
	"context"
	"time"
)

// Repository defines the persistence contract for transactions,
// assessments, feedback labels and override rules.
type Repository interface {
	// Transactions
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)

	// Assessments
	SaveAssessment(ctx context.Context, a *RiskAssessment) error
	GetAssessmentByTx(ctx context.Context, txID string) (*RiskAssessment, error)

	// ListAssessments returns past assessments newest first, joined with
	// their transaction context for the wire representation.
	ListAssessments(ctx context.Context, limit int) ([]*AssessmentWithTx, error)

	// Feedback corpus. SaveFeedback upserts on transaction ID.
	SaveFeedback(ctx context.Context, fb *FeedbackRecord) error
	ListFeedback(ctx context.Context) ([]*FeedbackRecord, error)
	CountFeedbackSince(ctx context.Context, since time.Time) (int, error)

	// LabeledAssessments joins feedback labels with the stored feature
	// snapshots, producing rows ready for retraining.
	LabeledAssessments(ctx context.Context) ([]*LabeledSample, error)

	// Override rules
	SaveOverrideRule(ctx context.Context, rule *OverrideRule) error
	ListOverrideRules(ctx context.Context, enabledOnly bool) ([]*OverrideRule, error)

	// IP analytics
	CountTransactionsByIP(ctx context.Context, ipAddress string, since time.Time) (int, error)
	TopIPs(ctx context.Context, since time.Time, limit int) ([]IPTraffic, error)

	// Insights aggregates assessments for one day, falling back to
	// all-time aggregates when the day is empty.
	Insights(ctx context.Context, day time.Time) (*DailyInsights, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// AssessmentWithTx pairs an assessment with its transaction context.
type AssessmentWithTx struct {
	Assessment  *RiskAssessment
	Transaction *Transaction
}

// LabeledSample is one training row: feature values plus confirmed label.
type LabeledSample struct {
	TransactionID string
	Features      FeatureVector
	IsFraud       bool
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite settings
	SQLitePath string

	// PostgreSQL settings
	PostgresHost     string
	PostgresPort     int
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
