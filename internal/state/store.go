package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tern-labs/swarmd/internal/idgen"
	"github.com/tern-labs/swarmd/internal/schema"
)

// timeLayout is RFC3339 with a fixed-width fractional second, so the stored
// strings sort lexicographically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var (
	ErrNotFound = errors.New("not found")

	// ErrDuplicateVerdict is returned when a verdict already exists for a
	// signal. Verdict creation is compare-and-set: the unique constraint on
	// signal_id is the arbiter, so concurrent duplicate checks cannot both
	// win.
	ErrDuplicateVerdict = errors.New("verdict already exists for signal")
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

type TradeSignal struct {
	ID           string        `json:"id"`
	Symbol       string        `json:"symbol"`
	Action       schema.Action `json:"action"`
	Confidence   float64       `json:"confidence"`
	PriceTarget  float64       `json:"price_target,omitempty"`
	StopLoss     float64       `json:"stop_loss,omitempty"`
	CurrentPrice float64       `json:"current_price,omitempty"`
	Reasoning    string        `json:"reasoning,omitempty"`
	SourceAgent  string        `json:"source_agent,omitempty"`
	RiskApproved *bool         `json:"risk_approved,omitempty"`
	RiskWarnings []string      `json:"risk_warnings,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

type RiskVerdict struct {
	ID                 string         `json:"id"`
	SignalID           string         `json:"signal_id"`
	Symbol             string         `json:"symbol"`
	Action             schema.Action  `json:"action"`
	OriginalConfidence float64        `json:"original_confidence"`
	Approved           bool           `json:"approved"`
	Verdict            schema.Verdict `json:"verdict"`
	Warnings           []string       `json:"warnings,omitempty"`
	CheckedBy          string         `json:"checked_by"`
	CreatedAt          time.Time      `json:"created_at"`
}

type Report struct {
	ID               string         `json:"id"`
	Symbol           string         `json:"symbol"`
	Summary          string         `json:"summary,omitempty"`
	Sentiment        string         `json:"sentiment,omitempty"`
	Recommendation   schema.Action  `json:"recommendation"`
	Confidence       float64        `json:"confidence"`
	KeyFindings      []string       `json:"key_findings,omitempty"`
	TechnicalData    map[string]any `json:"technical_data,omitempty"`
	FundamentalData  map[string]any `json:"fundamental_data,omitempty"`
	SentimentData    map[string]any `json:"sentiment_data,omitempty"`
	QuantitativeData map[string]any `json:"quantitative_data,omitempty"`
	RiskVerdict      map[string]any `json:"risk_verdict,omitempty"`
	SignalID         string         `json:"signal_id,omitempty"`
	AgentName        string         `json:"agent_name,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// SignalWithVerdict is the read surface dashboards consume: a signal
// left-joined with its verdict, if one exists yet.
type SignalWithVerdict struct {
	TradeSignal
	Verdict *RiskVerdict `json:"verdict,omitempty"`
}

type ContextEntry struct {
	ID        string         `json:"id"`
	Agent     string         `json:"agent"`
	Symbol    string         `json:"symbol"`
	Category  string         `json:"category"`
	Content   map[string]any `json:"content"`
	CreatedAt time.Time      `json:"created_at"`
}

type RiskSummary struct {
	Checked  int `json:"checked"`
	Approved int `json:"approved"`
	Flagged  int `json:"flagged"`
	Rejected int `json:"rejected"`
}

// ── Trade signals ────────────────────────────────────────────

func (s *Store) SaveSignal(ctx context.Context, signal *TradeSignal) error {
	if signal.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !signal.Action.Valid() {
		return fmt.Errorf("invalid action %q", signal.Action)
	}
	if signal.Confidence < 0 || signal.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", signal.Confidence)
	}
	if signal.ID == "" {
		signal.ID = idgen.New()
	}
	if signal.CreatedAt.IsZero() {
		signal.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trade_signals (id, symbol, action, confidence, price_target, stop_loss, current_price, reasoning, source_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, signal.ID, signal.Symbol, string(signal.Action), signal.Confidence,
		nullFloat(signal.PriceTarget), nullFloat(signal.StopLoss), nullFloat(signal.CurrentPrice),
		nullString(signal.Reasoning), nullString(signal.SourceAgent), signal.CreatedAt.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

func (s *Store) GetSignal(ctx context.Context, id string) (TradeSignal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, symbol, action, confidence, price_target, stop_loss, current_price, reasoning, source_agent, risk_approved, risk_warnings, created_at
		FROM trade_signals WHERE id = ?
	`, id)
	signal, err := scanSignal(row)
	if err == sql.ErrNoRows {
		return TradeSignal{}, ErrNotFound
	}
	if err != nil {
		return TradeSignal{}, fmt.Errorf("get signal: %w", err)
	}
	return signal, nil
}

// RecentSignals returns the N most recent signals, each carrying its verdict
// when one has been recorded.
func (s *Store) RecentSignals(ctx context.Context, limit int) ([]SignalWithVerdict, error) {
	return s.querySignals(ctx, "", limit)
}

// ActionableSignals returns recent signals that have passed risk review.
// Signals with no verdict yet, and rejected ones, are hidden.
func (s *Store) ActionableSignals(ctx context.Context, limit int) ([]SignalWithVerdict, error) {
	return s.querySignals(ctx, "WHERE v.approved = 1", limit)
}

func (s *Store) querySignals(ctx context.Context, where string, limit int) ([]SignalWithVerdict, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
		SELECT t.id, t.symbol, t.action, t.confidence, t.price_target, t.stop_loss, t.current_price, t.reasoning, t.source_agent, t.risk_approved, t.risk_warnings, t.created_at,
		       v.id, v.verdict, v.approved, v.warnings, v.checked_by, v.created_at
		FROM trade_signals t
		LEFT JOIN risk_verdicts v ON v.signal_id = t.id
		%s
		ORDER BY t.created_at DESC LIMIT ?
	`, where)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list signals: %w", err)
	}
	defer rows.Close()

	var out []SignalWithVerdict
	for rows.Next() {
		var item SignalWithVerdict
		var priceTarget, stopLoss, currentPrice sql.NullFloat64
		var reasoning, sourceAgent, warningsStr sql.NullString
		var riskApproved sql.NullBool
		var createdAtStr string
		var vID, vVerdict, vWarnings, vCheckedBy, vCreatedAt sql.NullString
		var vApproved sql.NullBool
		if err := rows.Scan(&item.ID, &item.Symbol, &item.Action, &item.Confidence,
			&priceTarget, &stopLoss, &currentPrice, &reasoning, &sourceAgent,
			&riskApproved, &warningsStr, &createdAtStr,
			&vID, &vVerdict, &vApproved, &vWarnings, &vCheckedBy, &vCreatedAt); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		item.PriceTarget = priceTarget.Float64
		item.StopLoss = stopLoss.Float64
		item.CurrentPrice = currentPrice.Float64
		item.Reasoning = reasoning.String
		item.SourceAgent = sourceAgent.String
		if riskApproved.Valid {
			approved := riskApproved.Bool
			item.RiskApproved = &approved
		}
		item.RiskWarnings = decodeStrings(warningsStr.String)
		item.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
		if vID.Valid {
			verdict := RiskVerdict{
				ID:                 vID.String,
				SignalID:           item.ID,
				Symbol:             item.Symbol,
				Action:             item.Action,
				OriginalConfidence: item.Confidence,
				Approved:           vApproved.Bool,
				Verdict:            schema.Verdict(vVerdict.String),
				Warnings:           decodeStrings(vWarnings.String),
				CheckedBy:          vCheckedBy.String,
			}
			verdict.CreatedAt, _ = time.Parse(time.RFC3339Nano, vCreatedAt.String)
			item.Verdict = &verdict
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signals: %w", err)
	}
	return out, nil
}

// ── Risk verdicts ────────────────────────────────────────────

// SaveVerdict persists a verdict for a signal. The write succeeds only if no
// verdict exists yet for that signal_id; a duplicate attempt returns
// ErrDuplicateVerdict. On success the signal's derived risk fields are
// refreshed in the same transaction — the verdict row stays the source of
// truth.
func (s *Store) SaveVerdict(ctx context.Context, verdict *RiskVerdict) error {
	if verdict.SignalID == "" {
		return fmt.Errorf("signal_id is required")
	}
	if !verdict.Verdict.Valid() {
		return fmt.Errorf("invalid verdict %q", verdict.Verdict)
	}
	if verdict.ID == "" {
		verdict.ID = idgen.New()
	}
	if verdict.CreatedAt.IsZero() {
		verdict.CreatedAt = time.Now().UTC()
	}
	warningsJSON, err := encodeJSON(verdict.Warnings)
	if err != nil {
		return fmt.Errorf("encode warnings: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin verdict tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO risk_verdicts (id, signal_id, symbol, action, original_confidence, approved, verdict, warnings, checked_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, verdict.ID, verdict.SignalID, verdict.Symbol, string(verdict.Action), verdict.OriginalConfidence,
		boolInt(verdict.Approved), string(verdict.Verdict), warningsJSON, verdict.CheckedBy,
		verdict.CreatedAt.Format(timeLayout))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateVerdict
		}
		return fmt.Errorf("insert verdict: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE trade_signals SET risk_approved = ?, risk_warnings = ? WHERE id = ?
	`, boolInt(verdict.Approved), warningsJSON, verdict.SignalID)
	if err != nil {
		return fmt.Errorf("update signal risk fields: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateVerdict
		}
		return fmt.Errorf("commit verdict: %w", err)
	}
	return nil
}

func (s *Store) VerdictForSignal(ctx context.Context, signalID string) (RiskVerdict, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, signal_id, symbol, action, original_confidence, approved, verdict, warnings, checked_by, created_at
		FROM risk_verdicts WHERE signal_id = ?
	`, signalID)
	var v RiskVerdict
	var approved int
	var warningsStr sql.NullString
	var createdAtStr string
	err := row.Scan(&v.ID, &v.SignalID, &v.Symbol, &v.Action, &v.OriginalConfidence, &approved, &v.Verdict, &warningsStr, &v.CheckedBy, &createdAtStr)
	if err == sql.ErrNoRows {
		return RiskVerdict{}, ErrNotFound
	}
	if err != nil {
		return RiskVerdict{}, fmt.Errorf("get verdict: %w", err)
	}
	v.Approved = approved != 0
	v.Warnings = decodeStrings(warningsStr.String)
	v.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
	return v, nil
}

// RecentRiskSummary tallies verdicts over the lastN most recent checks.
func (s *Store) RecentRiskSummary(ctx context.Context, lastN int) (RiskSummary, error) {
	if lastN <= 0 {
		lastN = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT verdict FROM risk_verdicts ORDER BY created_at DESC LIMIT ?
	`, lastN)
	if err != nil {
		return RiskSummary{}, fmt.Errorf("risk summary: %w", err)
	}
	defer rows.Close()

	var summary RiskSummary
	for rows.Next() {
		var verdict string
		if err := rows.Scan(&verdict); err != nil {
			return RiskSummary{}, fmt.Errorf("scan verdict: %w", err)
		}
		summary.Checked++
		switch schema.Verdict(verdict) {
		case schema.VerdictApproved:
			summary.Approved++
		case schema.VerdictFlagged:
			summary.Flagged++
		case schema.VerdictRejected:
			summary.Rejected++
		}
	}
	return summary, rows.Err()
}

// ── Reports ──────────────────────────────────────────────────

func (s *Store) SaveReport(ctx context.Context, report *Report) error {
	if report.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if report.ID == "" {
		report.ID = idgen.New()
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}
	keyFindings, err := encodeJSON(report.KeyFindings)
	if err != nil {
		return fmt.Errorf("encode key findings: %w", err)
	}
	fields := make([]string, 0, 5)
	for _, m := range []map[string]any{report.TechnicalData, report.FundamentalData, report.SentimentData, report.QuantitativeData, report.RiskVerdict} {
		encoded, err := encodeJSON(m)
		if err != nil {
			return fmt.Errorf("encode report data: %w", err)
		}
		fields = append(fields, encoded)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reports (id, symbol, summary, sentiment, recommendation, confidence, key_findings, technical_data, fundamental_data, sentiment_data, quantitative_data, risk_verdict, signal_id, agent_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, report.ID, report.Symbol, nullString(report.Summary), nullString(report.Sentiment),
		string(report.Recommendation), report.Confidence, keyFindings,
		fields[0], fields[1], fields[2], fields[3], fields[4],
		nullString(report.SignalID), nullString(report.AgentName),
		report.CreatedAt.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

func (s *Store) RecentReports(ctx context.Context, limit int) ([]Report, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, summary, sentiment, recommendation, confidence, key_findings, technical_data, fundamental_data, sentiment_data, quantitative_data, risk_verdict, signal_id, agent_name, created_at
		FROM reports ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var out []Report
	for rows.Next() {
		var r Report
		var summary, sentiment, keyFindings, technical, fundamental, sentimentData, quantitative, riskVerdict, signalID, agentName sql.NullString
		var createdAtStr string
		if err := rows.Scan(&r.ID, &r.Symbol, &summary, &sentiment, &r.Recommendation, &r.Confidence,
			&keyFindings, &technical, &fundamental, &sentimentData, &quantitative, &riskVerdict,
			&signalID, &agentName, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		r.Summary = summary.String
		r.Sentiment = sentiment.String
		r.KeyFindings = decodeStrings(keyFindings.String)
		r.TechnicalData = decodeJSONMap(technical.String)
		r.FundamentalData = decodeJSONMap(fundamental.String)
		r.SentimentData = decodeJSONMap(sentimentData.String)
		r.QuantitativeData = decodeJSONMap(quantitative.String)
		r.RiskVerdict = decodeJSONMap(riskVerdict.String)
		r.SignalID = signalID.String
		r.AgentName = agentName.String
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}
	return out, nil
}

// ── Context entries ──────────────────────────────────────────

func (s *Store) PutContext(ctx context.Context, agent, symbol, category string, content map[string]any) error {
	if symbol == "" || category == "" {
		return fmt.Errorf("symbol and category are required")
	}
	contentJSON, err := encodeJSON(content)
	if err != nil {
		return fmt.Errorf("encode context content: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO context_entries (id, agent, symbol, category, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, idgen.New(), agent, symbol, category, contentJSON, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert context entry: %w", err)
	}
	return nil
}

// LatestContext returns the freshest entry per category for a symbol, the
// retrieval surface the synthesis stage reads.
func (s *Store) LatestContext(ctx context.Context, symbol string) ([]ContextEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.agent, c.symbol, c.category, c.content, c.created_at
		FROM context_entries c
		JOIN (
			SELECT category, MAX(created_at) AS latest
			FROM context_entries WHERE symbol = ? GROUP BY category
		) m ON c.category = m.category AND c.created_at = m.latest
		WHERE c.symbol = ?
		ORDER BY c.category
	`, symbol, symbol)
	if err != nil {
		return nil, fmt.Errorf("latest context: %w", err)
	}
	defer rows.Close()

	var out []ContextEntry
	for rows.Next() {
		var entry ContextEntry
		var contentStr, createdAtStr string
		if err := rows.Scan(&entry.ID, &entry.Agent, &entry.Symbol, &entry.Category, &contentStr, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scan context entry: %w", err)
		}
		entry.Content = decodeJSONMap(contentStr)
		entry.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
		out = append(out, entry)
	}
	return out, rows.Err()
}

// PruneContext removes entries strictly older than cutoff.
func (s *Store) PruneContext(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM context_entries WHERE created_at < ?`, cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("prune context: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ── Scan helpers ─────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSignal(row rowScanner) (TradeSignal, error) {
	var signal TradeSignal
	var priceTarget, stopLoss, currentPrice sql.NullFloat64
	var reasoning, sourceAgent, warningsStr sql.NullString
	var riskApproved sql.NullBool
	var createdAtStr string
	err := row.Scan(&signal.ID, &signal.Symbol, &signal.Action, &signal.Confidence,
		&priceTarget, &stopLoss, &currentPrice, &reasoning, &sourceAgent,
		&riskApproved, &warningsStr, &createdAtStr)
	if err != nil {
		return TradeSignal{}, err
	}
	signal.PriceTarget = priceTarget.Float64
	signal.StopLoss = stopLoss.Float64
	signal.CurrentPrice = currentPrice.Float64
	signal.Reasoning = reasoning.String
	signal.SourceAgent = sourceAgent.String
	if riskApproved.Valid {
		approved := riskApproved.Bool
		signal.RiskApproved = &approved
	}
	signal.RiskWarnings = decodeStrings(warningsStr.String)
	signal.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
	return signal, nil
}

func encodeJSON(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case []string:
		if val == nil {
			return "[]", nil
		}
	case map[string]any:
		if val == nil {
			return "", nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeJSONMap(v string) map[string]any {
	if v == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		return nil
	}
	return out
}

func decodeStrings(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		return nil
	}
	return out
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullFloat(v float64) any {
	if v == 0 {
		return nil
	}
	return v
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
