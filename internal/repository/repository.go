// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a transaction.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx.ID == "" {
		return fmt.Errorf("%w: transaction ID is required", ErrInvalidInput)
	}

	var lat, lon sql.NullFloat64
	if tx.Location != nil {
		lat = sql.NullFloat64{Float64: tx.Location.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: tx.Location.Lon, Valid: true}
	}

	query := `
		INSERT INTO transactions (
			id, account_id, name, amount, device_type, ip_address,
			lat, lon, timestamp, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.AccountID, tx.Name, tx.Amount, tx.DeviceType, tx.IPAddress,
		lat, lon, tx.Timestamp, tx.CreatedAt,
	)
	return err
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	query := `
		SELECT id, account_id, name, amount, device_type, ip_address,
			   lat, lon, timestamp, created_at
		FROM transactions
		WHERE id = ?
	`

	var tx domain.Transaction
	var lat, lon sql.NullFloat64

	err := r.db.QueryRowContext(ctx, r.rebind(query), txID).Scan(
		&tx.ID, &tx.AccountID, &tx.Name, &tx.Amount, &tx.DeviceType, &tx.IPAddress,
		&lat, &lon, &tx.Timestamp, &tx.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if lat.Valid && lon.Valid {
		tx.Location = &domain.GeoPoint{Lat: lat.Float64, Lon: lon.Float64}
	}

	return &tx, nil
}

// SaveAssessment stores a risk assessment.
func (r *SQLRepository) SaveAssessment(ctx context.Context, a *domain.RiskAssessment) error {
	if a.ID == "" || a.TxID == "" {
		return fmt.Errorf("%w: assessment and transaction IDs are required", ErrInvalidInput)
	}

	reasons, _ := json.Marshal(a.Reasons)
	features, _ := json.Marshal(a.Features)

	query := `
		INSERT INTO assessments (
			id, tx_id, account_id, fraud_probability, risk_score, risk_level,
			supervised_proba, anomaly_score, threshold_used, flagged, reasons,
			graph_flagged, model_untrained, override_rule, ip_flagged,
			features, trust_score, account_age_days, model_version, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.ID, a.TxID, a.AccountID, a.FraudProbability, a.RiskScore, a.RiskLevel,
		a.SupervisedProba, a.AnomalyScore, a.ThresholdUsed, boolToInt(a.Flagged), string(reasons),
		boolToInt(a.GraphFlagged), boolToInt(a.ModelUntrained), a.OverrideRule, boolToInt(a.IPFlagged),
		string(features), a.TrustScore, a.AccountAgeDays, a.ModelVersion, a.Timestamp,
	)
	return err
}

const assessmentColumns = `
	id, tx_id, account_id, fraud_probability, risk_score, risk_level,
	supervised_proba, anomaly_score, threshold_used, flagged, reasons,
	graph_flagged, model_untrained, override_rule, ip_flagged,
	features, trust_score, account_age_days, model_version, timestamp
`

func scanAssessment(scanner interface{ Scan(...any) error }) (*domain.RiskAssessment, error) {
	var a domain.RiskAssessment
	var reasons, features string
	var flagged, graphFlagged, untrained, ipFlagged int
	var overrideRule, modelVersion sql.NullString

	err := scanner.Scan(
		&a.ID, &a.TxID, &a.AccountID, &a.FraudProbability, &a.RiskScore, &a.RiskLevel,
		&a.SupervisedProba, &a.AnomalyScore, &a.ThresholdUsed, &flagged, &reasons,
		&graphFlagged, &untrained, &overrideRule, &ipFlagged,
		&features, &a.TrustScore, &a.AccountAgeDays, &modelVersion, &a.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	a.Flagged = flagged != 0
	a.GraphFlagged = graphFlagged != 0
	a.ModelUntrained = untrained != 0
	a.IPFlagged = ipFlagged != 0
	a.OverrideRule = overrideRule.String
	a.ModelVersion = modelVersion.String

	if reasons != "" {
		json.Unmarshal([]byte(reasons), &a.Reasons)
	}
	if features != "" {
		json.Unmarshal([]byte(features), &a.Features)
	}

	return &a, nil
}

// GetAssessmentByTx retrieves the assessment for a transaction.
func (r *SQLRepository) GetAssessmentByTx(ctx context.Context, txID string) (*domain.RiskAssessment, error) {
	query := `SELECT ` + assessmentColumns + ` FROM assessments WHERE tx_id = ?`

	a, err := scanAssessment(r.db.QueryRowContext(ctx, r.rebind(query), txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListAssessments returns past assessments newest first, joined with their
// transaction context.
func (r *SQLRepository) ListAssessments(ctx context.Context, limit int) ([]*domain.AssessmentWithTx, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT a.id, a.tx_id, a.account_id, a.fraud_probability, a.risk_score, a.risk_level,
			   a.supervised_proba, a.anomaly_score, a.threshold_used, a.flagged, a.reasons,
			   a.graph_flagged, a.model_untrained, a.override_rule, a.ip_flagged,
			   a.features, a.trust_score, a.account_age_days, a.model_version, a.timestamp,
			   t.id, t.account_id, t.name, t.amount, t.device_type, t.ip_address,
			   t.lat, t.lon, t.timestamp, t.created_at
		FROM assessments a
		JOIN transactions t ON t.id = a.tx_id
		ORDER BY a.timestamp DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.AssessmentWithTx
	for rows.Next() {
		var a domain.RiskAssessment
		var tx domain.Transaction
		var reasons, features string
		var flagged, graphFlagged, untrained, ipFlagged int
		var overrideRule, modelVersion sql.NullString
		var lat, lon sql.NullFloat64

		if err := rows.Scan(
			&a.ID, &a.TxID, &a.AccountID, &a.FraudProbability, &a.RiskScore, &a.RiskLevel,
			&a.SupervisedProba, &a.AnomalyScore, &a.ThresholdUsed, &flagged, &reasons,
			&graphFlagged, &untrained, &overrideRule, &ipFlagged,
			&features, &a.TrustScore, &a.AccountAgeDays, &modelVersion, &a.Timestamp,
			&tx.ID, &tx.AccountID, &tx.Name, &tx.Amount, &tx.DeviceType, &tx.IPAddress,
			&lat, &lon, &tx.Timestamp, &tx.CreatedAt,
		); err != nil {
			return nil, err
		}

		a.Flagged = flagged != 0
		a.GraphFlagged = graphFlagged != 0
		a.ModelUntrained = untrained != 0
		a.IPFlagged = ipFlagged != 0
		a.OverrideRule = overrideRule.String
		a.ModelVersion = modelVersion.String
		if reasons != "" {
			json.Unmarshal([]byte(reasons), &a.Reasons)
		}
		if features != "" {
			json.Unmarshal([]byte(features), &a.Features)
		}
		if lat.Valid && lon.Valid {
			tx.Location = &domain.GeoPoint{Lat: lat.Float64, Lon: lon.Float64}
		}

		results = append(results, &domain.AssessmentWithTx{Assessment: &a, Transaction: &tx})
	}

	return results, rows.Err()
}

// SaveFeedback upserts an analyst label on transaction ID.
// Repeated submissions overwrite rather than duplicate.
func (r *SQLRepository) SaveFeedback(ctx context.Context, fb *domain.FeedbackRecord) error {
	if fb.TransactionID == "" {
		return fmt.Errorf("%w: transaction ID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO feedback (transaction_id, account_id, confirmed_fraud, analyst_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(transaction_id) DO UPDATE SET
			confirmed_fraud = excluded.confirmed_fraud,
			analyst_id = excluded.analyst_id,
			created_at = excluded.created_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		fb.TransactionID, fb.AccountID, boolToInt(fb.ConfirmedFraud), fb.AnalystID, fb.CreatedAt,
	)
	return err
}

// ListFeedback returns all analyst labels.
func (r *SQLRepository) ListFeedback(ctx context.Context) ([]*domain.FeedbackRecord, error) {
	query := `
		SELECT transaction_id, account_id, confirmed_fraud, analyst_id, created_at
		FROM feedback
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.FeedbackRecord
	for rows.Next() {
		var fb domain.FeedbackRecord
		var confirmed int
		if err := rows.Scan(&fb.TransactionID, &fb.AccountID, &confirmed, &fb.AnalystID, &fb.CreatedAt); err != nil {
			return nil, err
		}
		fb.ConfirmedFraud = confirmed != 0
		records = append(records, &fb)
	}

	return records, rows.Err()
}

// CountFeedbackSince counts labels created after the given time.
func (r *SQLRepository) CountFeedbackSince(ctx context.Context, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM feedback WHERE created_at >= ?`

	var count int
	if err := r.db.QueryRowContext(ctx, r.rebind(query), since).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// LabeledAssessments joins feedback labels with stored feature snapshots.
func (r *SQLRepository) LabeledAssessments(ctx context.Context) ([]*domain.LabeledSample, error) {
	query := `
		SELECT f.transaction_id, f.confirmed_fraud, a.features
		FROM feedback f
		JOIN assessments a ON a.tx_id = f.transaction_id
		ORDER BY f.created_at
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []*domain.LabeledSample
	for rows.Next() {
		var s domain.LabeledSample
		var confirmed int
		var features string
		if err := rows.Scan(&s.TransactionID, &confirmed, &features); err != nil {
			return nil, err
		}
		s.IsFraud = confirmed != 0
		if features != "" {
			if err := json.Unmarshal([]byte(features), &s.Features); err != nil {
				continue // skip rows with unreadable snapshots
			}
		}
		samples = append(samples, &s)
	}

	return samples, rows.Err()
}

// SaveOverrideRule upserts an analyst override rule.
func (r *SQLRepository) SaveOverrideRule(ctx context.Context, rule *domain.OverrideRule) error {
	if rule.ID == "" {
		return fmt.Errorf("%w: rule ID is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	query := `
		INSERT INTO override_rules (id, name, description, expression, reason, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			reason = excluded.reason,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Expression, rule.Reason,
		boolToInt(rule.Enabled), rule.CreatedAt, rule.UpdatedAt,
	)
	return err
}

// ListOverrideRules returns override rules, optionally only enabled ones.
func (r *SQLRepository) ListOverrideRules(ctx context.Context, enabledOnly bool) ([]*domain.OverrideRule, error) {
	query := `
		SELECT id, name, description, expression, reason, enabled, created_at, updated_at
		FROM override_rules
	`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.OverrideRule
	for rows.Next() {
		var rule domain.OverrideRule
		var description sql.NullString
		var enabled int
		if err := rows.Scan(&rule.ID, &rule.Name, &description, &rule.Expression,
			&rule.Reason, &enabled, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
			return nil, err
		}
		rule.Description = description.String
		rule.Enabled = enabled != 0
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// CountTransactionsByIP counts transactions from an IP since the given time.
func (r *SQLRepository) CountTransactionsByIP(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM transactions WHERE ip_address = ? AND timestamp >= ?`

	var count int
	if err := r.db.QueryRowContext(ctx, r.rebind(query), ipAddress, since).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// TopIPs returns the busiest source IPs since the given time.
func (r *SQLRepository) TopIPs(ctx context.Context, since time.Time, limit int) ([]domain.IPTraffic, error) {
	if limit <= 0 {
		limit = 5
	}

	query := `
		SELECT ip_address, COUNT(*) AS cnt
		FROM transactions
		WHERE timestamp >= ?
		GROUP BY ip_address
		ORDER BY cnt DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var top []domain.IPTraffic
	for rows.Next() {
		var t domain.IPTraffic
		if err := rows.Scan(&t.IPAddress, &t.Count); err != nil {
			return nil, err
		}
		top = append(top, t)
	}

	return top, rows.Err()
}

// Insights aggregates assessments for one day, falling back to all-time
// aggregates when the day has no transactions. Aggregation happens in Go
// so the query stays portable across SQLite and PostgreSQL.
func (r *SQLRepository) Insights(ctx context.Context, day time.Time) (*domain.DailyInsights, error) {
	startOfDay := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	endOfDay := startOfDay.Add(24 * time.Hour)

	rows, err := r.queryInsightRows(ctx, &startOfDay, &endOfDay)
	if err != nil {
		return nil, err
	}

	label := startOfDay.Format("2006-01-02")
	if len(rows) == 0 {
		// Fall back to all-time aggregates
		rows, err = r.queryInsightRows(ctx, nil, nil)
		if err != nil {
			return nil, err
		}
		label = "All Time"
	}

	insights := &domain.DailyInsights{
		Date:              label,
		TotalTransactions: len(rows),
	}

	ipCounts := make(map[string]int)
	nightCount, nightFraud := 0, 0

	for _, row := range rows {
		if row.flagged {
			insights.FraudCount++
		}
		switch row.riskLevel {
		case domain.RiskLevelLow:
			insights.RiskDistribution.Low++
		case domain.RiskLevelMedium:
			insights.RiskDistribution.Medium++
		case domain.RiskLevelHigh:
			insights.RiskDistribution.High++
		}
		hour := row.timestamp.UTC().Hour()
		if hour >= 22 || hour < 6 {
			nightCount++
			if row.flagged {
				nightFraud++
			}
		}
		ipCounts[row.ipAddress]++
	}

	if insights.TotalTransactions > 0 {
		insights.FraudPercentage = round2(float64(insights.FraudCount) / float64(insights.TotalTransactions) * 100)
	}
	insights.NighttimeAttacks.Count = nightCount
	if nightCount > 0 {
		insights.NighttimeAttacks.FraudRate = round2(float64(nightFraud) / float64(nightCount) * 100)
	}

	// Top 5 IPs by volume
	for ip, count := range ipCounts {
		insights.TopIPs = append(insights.TopIPs, domain.IPTraffic{IPAddress: ip, Count: count})
	}
	sort.Slice(insights.TopIPs, func(i, j int) bool {
		return insights.TopIPs[i].Count > insights.TopIPs[j].Count
	})
	if len(insights.TopIPs) > 5 {
		insights.TopIPs = insights.TopIPs[:5]
	}

	return insights, nil
}

type insightRow struct {
	flagged   bool
	riskLevel string
	ipAddress string
	timestamp time.Time
}

func (r *SQLRepository) queryInsightRows(ctx context.Context, from, to *time.Time) ([]insightRow, error) {
	query := `
		SELECT a.flagged, a.risk_level, t.ip_address, a.timestamp
		FROM assessments a
		JOIN transactions t ON t.id = a.tx_id
	`
	var args []any
	if from != nil && to != nil {
		query += ` WHERE a.timestamp >= ? AND a.timestamp < ?`
		args = append(args, *from, *to)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []insightRow
	for rows.Next() {
		var row insightRow
		var flagged int
		if err := rows.Scan(&flagged, &row.riskLevel, &row.ipAddress, &row.timestamp); err != nil {
			return nil, err
		}
		row.flagged = flagged != 0
		result = append(result, row)
	}

	return result, rows.Err()
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
