/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY FIELDS:
  All money and wRVU fields are JSON strings holding decimal values
  ("2400.00"), never floats. Clients that need arithmetic must parse them
  with a decimal library.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - engine/types.go: Domain model these map from
*/
package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/comp-engine/engine"
)

// =============================================================================
// RUN REQUEST
// =============================================================================

// RunRequest is the body of POST /api/runs: a period plus the materialized
// input rows from both collaborators.
type RunRequest struct {
	PeriodStart  string          `json:"period_start"` // "2006-01-02"
	PeriodEnd    string          `json:"period_end"`   // exclusive
	DatabaseRows []ShiftRowDTO   `json:"database_rows"`
	ScrapedRows  []ShiftRowDTO   `json:"scraped_rows"`
	BillingRows  []BillingRowDTO `json:"billing_rows"`

	// Identity maps scraped-source display aliases to canonical physician
	// IDs for this run, layered over the server's configured table.
	Identity map[string]string `json:"identity,omitempty"`
}

// ShiftRowDTO is one raw shift row. Database rows carry RFC3339 start/end;
// scraped rows carry a date plus clock times.
type ShiftRowDTO struct {
	SourceKey string `json:"source_key"`
	Physician string `json:"physician"`
	Date      string `json:"date,omitempty"`
	Start     string `json:"start"`
	End       string `json:"end"`
}

// BillingRowDTO is one raw wRVU billing row.
type BillingRowDTO struct {
	SourceKey string `json:"source_key"`
	Physician string `json:"physician"`
	Date      string `json:"date"`
	WRVU      string `json:"wrvu"`
	ShiftKey  string `json:"shift_key,omitempty"`
}

// ToInput converts the request into the engine's input form.
func (r RunRequest) ToInput(loc *time.Location) (engine.RunInput, error) {
	start, err := time.ParseInLocation("2006-01-02", r.PeriodStart, loc)
	if err != nil {
		return engine.RunInput{}, fmt.Errorf("invalid period_start: %w", err)
	}
	end, err := time.ParseInLocation("2006-01-02", r.PeriodEnd, loc)
	if err != nil {
		return engine.RunInput{}, fmt.Errorf("invalid period_end: %w", err)
	}

	input := engine.RunInput{Period: engine.Period{Start: start, End: end}}
	for _, row := range r.DatabaseRows {
		input.DatabaseRows = append(input.DatabaseRows, rawShiftRow(row))
	}
	for _, row := range r.ScrapedRows {
		input.ScrapedRows = append(input.ScrapedRows, rawShiftRow(row))
	}
	for _, row := range r.BillingRows {
		input.BillingRows = append(input.BillingRows, engine.RawBillingRow{
			SourceKey: row.SourceKey,
			Physician: row.Physician,
			Date:      row.Date,
			WRVU:      row.WRVU,
			ShiftKey:  row.ShiftKey,
		})
	}
	return input, nil
}

func rawShiftRow(row ShiftRowDTO) engine.RawShiftRow {
	return engine.RawShiftRow{
		SourceKey: row.SourceKey,
		Physician: row.Physician,
		Date:      row.Date,
		Start:     row.Start,
		End:       row.End,
	}
}

// =============================================================================
// RUN RESPONSES
// =============================================================================

// RunSummaryDTO is the listing view of a run.
type RunSummaryDTO struct {
	RunID       string `json:"run_id"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
	CreatedAt   string `json:"created_at"`
	Physicians  int    `json:"physicians"`
	Issues      int    `json:"issues"`
}

// RunDTO is the full run result.
type RunDTO struct {
	RunID        string            `json:"run_id"`
	PeriodStart  string            `json:"period_start"`
	PeriodEnd    string            `json:"period_end"`
	CreatedAt    string            `json:"created_at"`
	Ledgers      []LedgerDTO       `json:"ledgers"`
	Issues       []IssueDTO        `json:"issues"`
	Unattributed []UnattributedDTO `json:"unattributed"`
	Failures     []RowFailureDTO   `json:"failures"`
	Skipped      []SkippedDTO      `json:"skipped"`
}

// LedgerDTO is one physician's period ledger.
type LedgerDTO struct {
	Physician             string        `json:"physician"`
	LineItems             []LineItemDTO `json:"line_items"`
	TotalHours            string        `json:"total_hours"`
	TotalWRVU             string        `json:"total_wrvu"`
	TotalBase             string        `json:"total_base"`
	TotalDifferential     string        `json:"total_differential"`
	ProductivityIncentive string        `json:"productivity_incentive"`
	PerformanceIncentive  string        `json:"performance_incentive"`
	PeriodTotal           string        `json:"period_total"`
	IssueCount            int           `json:"issue_count"`
}

// LineItemDTO is one shift's itemized pay.
type LineItemDTO struct {
	ShiftID               string            `json:"shift_id"`
	Start                 string            `json:"start"`
	End                   string            `json:"end"`
	Hours                 string            `json:"hours"`
	BaseRate              string            `json:"base_rate"`
	Base                  string            `json:"base"`
	Differentials         []DifferentialDTO `json:"differentials,omitempty"`
	WRVU                  string            `json:"wrvu"`
	ProductivityIncentive string            `json:"productivity_incentive"`
	PerformanceIncentive  string            `json:"performance_incentive"`
	Total                 string            `json:"total"`
}

type DifferentialDTO struct {
	Rule   string `json:"rule"`
	Hours  string `json:"hours"`
	Amount string `json:"amount"`
}

type IssueDTO struct {
	ShiftID   string `json:"shift_id"`
	Physician string `json:"physician"`
	Kind      string `json:"kind"`
	Severity  string `json:"severity"`
	Detail    string `json:"detail,omitempty"`
}

type UnattributedDTO struct {
	Physician string `json:"physician"`
	Date      string `json:"date"`
	WRVU      string `json:"wrvu"`
	ShiftKey  string `json:"shift_key,omitempty"`
}

type RowFailureDTO struct {
	Source    string `json:"source"`
	SourceKey string `json:"source_key"`
	Kind      string `json:"kind"`
	Detail    string `json:"detail,omitempty"`
}

type SkippedDTO struct {
	Physician string `json:"physician"`
	Detail    string `json:"detail,omitempty"`
}

// =============================================================================
// PARAMETERS
// =============================================================================

// ParameterSetDTO is one parameter version, both as request and response.
type ParameterSetDTO struct {
	Category       string `json:"category,omitempty"`
	EffectiveFrom  string `json:"effective_from"`         // "2006-01-02"
	EffectiveTo    string `json:"effective_to,omitempty"` // exclusive; empty = open-ended
	BaseHourlyRate string `json:"base_hourly_rate"`

	Differentials []DifferentialRuleDTO `json:"differentials,omitempty"`
	Bands         []BandDTO             `json:"productivity_bands,omitempty"`
	Performance   *PerformanceDTO       `json:"performance,omitempty"`
}

type DifferentialRuleDTO struct {
	Name string `json:"name"`
	From string `json:"from"` // "22:00"
	To   string `json:"to"`   // "06:00"
	Kind string `json:"kind"` // "flat" or "multiplier"
	Rate string `json:"rate"`
}

type BandDTO struct {
	Min       string `json:"min"`
	Incentive string `json:"incentive"`
}

type PerformanceDTO struct {
	MinIssueFreeRatio string `json:"min_issue_free_ratio"`
	MinShifts         int    `json:"min_shifts"`
	Incentive         string `json:"incentive"`
}

// ToParameterSet converts the DTO into the domain form.
func (d ParameterSetDTO) ToParameterSet(loc *time.Location) (engine.ParameterSet, error) {
	ps := engine.ParameterSet{Category: engine.Category(d.Category)}

	from, err := time.ParseInLocation("2006-01-02", d.EffectiveFrom, loc)
	if err != nil {
		return ps, fmt.Errorf("invalid effective_from: %w", err)
	}
	ps.EffectiveFrom = from
	if d.EffectiveTo != "" {
		to, err := time.ParseInLocation("2006-01-02", d.EffectiveTo, loc)
		if err != nil {
			return ps, fmt.Errorf("invalid effective_to: %w", err)
		}
		ps.EffectiveTo = to
	}
	if ps.BaseHourlyRate, err = decimal.NewFromString(d.BaseHourlyRate); err != nil {
		return ps, fmt.Errorf("invalid base_hourly_rate: %w", err)
	}

	for _, rule := range d.Differentials {
		window, err := parseWindow(rule.From, rule.To)
		if err != nil {
			return ps, fmt.Errorf("differential %q: %w", rule.Name, err)
		}
		rate, err := decimal.NewFromString(rule.Rate)
		if err != nil {
			return ps, fmt.Errorf("differential %q: invalid rate: %w", rule.Name, err)
		}
		ps.Differentials = append(ps.Differentials, engine.DifferentialRule{
			Name:   rule.Name,
			Window: window,
			Kind:   engine.DifferentialKind(rule.Kind),
			Rate:   rate,
		})
	}

	for _, band := range d.Bands {
		min, err := decimal.NewFromString(band.Min)
		if err != nil {
			return ps, fmt.Errorf("invalid band min: %w", err)
		}
		incentive, err := decimal.NewFromString(band.Incentive)
		if err != nil {
			return ps, fmt.Errorf("invalid band incentive: %w", err)
		}
		ps.ProductivityBands = append(ps.ProductivityBands, engine.ProductivityBand{
			Min: min, Incentive: incentive,
		})
	}

	if d.Performance != nil {
		ratio, err := decimal.NewFromString(d.Performance.MinIssueFreeRatio)
		if err != nil {
			return ps, fmt.Errorf("invalid min_issue_free_ratio: %w", err)
		}
		incentive, err := decimal.NewFromString(d.Performance.Incentive)
		if err != nil {
			return ps, fmt.Errorf("invalid performance incentive: %w", err)
		}
		ps.Performance = &engine.PerformanceCriteria{
			MinIssueFreeRatio: ratio,
			MinShifts:         d.Performance.MinShifts,
			Incentive:         incentive,
		}
	}

	return ps, nil
}

func parseWindow(from, to string) (engine.ClockWindow, error) {
	f, err := parseClock(from)
	if err != nil {
		return engine.ClockWindow{}, err
	}
	t, err := parseClock(to)
	if err != nil {
		return engine.ClockWindow{}, err
	}
	return engine.ClockWindow{From: f, To: t}, nil
}

func parseClock(s string) (engine.ClockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return engine.ClockTime{}, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return engine.NewClock(t.Hour(), t.Minute()), nil
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// DOMAIN -> DTO CONVERSIONS
// =============================================================================

func toRunDTO(result *engine.RunResult) RunDTO {
	dto := RunDTO{
		RunID:        result.RunID,
		PeriodStart:  result.Period.Start.Format("2006-01-02"),
		PeriodEnd:    result.Period.End.Format("2006-01-02"),
		CreatedAt:    result.CreatedAt.Format(time.RFC3339),
		Ledgers:      make([]LedgerDTO, 0, len(result.Ledgers)),
		Issues:       toIssueDTOs(result.Issues),
		Unattributed: toUnattributedDTOs(result.Unattributed),
		Failures:     make([]RowFailureDTO, 0, len(result.Failures)),
		Skipped:      make([]SkippedDTO, 0, len(result.Skipped)),
	}
	for _, ledger := range result.Ledgers {
		dto.Ledgers = append(dto.Ledgers, toLedgerDTO(ledger))
	}
	for _, f := range result.Failures {
		dto.Failures = append(dto.Failures, RowFailureDTO{
			Source: string(f.Source), SourceKey: f.SourceKey, Kind: string(f.Kind), Detail: f.Detail,
		})
	}
	for _, sk := range result.Skipped {
		dto.Skipped = append(dto.Skipped, SkippedDTO{Physician: string(sk.Physician), Detail: sk.Detail})
	}
	return dto
}

func toLedgerDTO(ledger engine.PeriodLedger) LedgerDTO {
	dto := LedgerDTO{
		Physician:             string(ledger.Physician),
		LineItems:             make([]LineItemDTO, 0, len(ledger.LineItems)),
		TotalHours:            ledger.TotalHours.String(),
		TotalWRVU:             ledger.TotalWRVU.String(),
		TotalBase:             ledger.TotalBase.String(),
		TotalDifferential:     ledger.TotalDifferential.String(),
		ProductivityIncentive: ledger.ProductivityIncentive.String(),
		PerformanceIncentive:  ledger.PerformanceIncentive.String(),
		PeriodTotal:           ledger.PeriodTotal.String(),
		IssueCount:            len(ledger.Issues),
	}
	for _, item := range ledger.LineItems {
		dto.LineItems = append(dto.LineItems, toLineItemDTO(item))
	}
	return dto
}

func toLineItemDTO(item engine.CompensationLineItem) LineItemDTO {
	dto := LineItemDTO{
		ShiftID:               string(item.ShiftID),
		Start:                 item.Start.Format(time.RFC3339),
		End:                   item.End.Format(time.RFC3339),
		Hours:                 item.Hours.String(),
		BaseRate:              item.BaseRate.String(),
		Base:                  item.Base.String(),
		WRVU:                  item.WRVU.String(),
		ProductivityIncentive: item.ProductivityIncentive.String(),
		PerformanceIncentive:  item.PerformanceIncentive.String(),
		Total:                 item.Total.String(),
	}
	for _, d := range item.Differentials {
		dto.Differentials = append(dto.Differentials, DifferentialDTO{
			Rule: d.Rule, Hours: d.Hours.String(), Amount: d.Amount.String(),
		})
	}
	return dto
}

func toIssueDTOs(issues []engine.Issue) []IssueDTO {
	dtos := make([]IssueDTO, 0, len(issues))
	for _, issue := range issues {
		dtos = append(dtos, IssueDTO{
			ShiftID:   string(issue.ShiftID),
			Physician: string(issue.Physician),
			Kind:      string(issue.Kind),
			Severity:  string(issue.Severity),
			Detail:    issue.Detail,
		})
	}
	return dtos
}

func toUnattributedDTOs(records []engine.BillingRecord) []UnattributedDTO {
	dtos := make([]UnattributedDTO, 0, len(records))
	for _, b := range records {
		dtos = append(dtos, UnattributedDTO{
			Physician: string(b.Physician),
			Date:      b.Date.Format("2006-01-02"),
			WRVU:      b.WRVU.String(),
			ShiftKey:  b.ShiftKey,
		})
	}
	return dtos
}

func toParameterSetDTO(ps engine.ParameterSet) ParameterSetDTO {
	dto := ParameterSetDTO{
		Category:       string(ps.Category),
		EffectiveFrom:  ps.EffectiveFrom.Format("2006-01-02"),
		BaseHourlyRate: ps.BaseHourlyRate.String(),
	}
	if !ps.EffectiveTo.IsZero() {
		dto.EffectiveTo = ps.EffectiveTo.Format("2006-01-02")
	}
	for _, rule := range ps.Differentials {
		dto.Differentials = append(dto.Differentials, DifferentialRuleDTO{
			Name: rule.Name,
			From: fmt.Sprintf("%02d:%02d", rule.Window.From.Hour, rule.Window.From.Minute),
			To:   fmt.Sprintf("%02d:%02d", rule.Window.To.Hour, rule.Window.To.Minute),
			Kind: string(rule.Kind),
			Rate: rule.Rate.String(),
		})
	}
	for _, band := range ps.ProductivityBands {
		dto.Bands = append(dto.Bands, BandDTO{Min: band.Min.String(), Incentive: band.Incentive.String()})
	}
	if ps.Performance != nil {
		dto.Performance = &PerformanceDTO{
			MinIssueFreeRatio: ps.Performance.MinIssueFreeRatio.String(),
			MinShifts:         ps.Performance.MinShifts,
			Incentive:         ps.Performance.Incentive.String(),
		}
	}
	return dto
}

func toRunSummaryDTO(summary engine.RunSummary) RunSummaryDTO {
	return RunSummaryDTO{
		RunID:       summary.RunID,
		PeriodStart: summary.Period.Start.Format("2006-01-02"),
		PeriodEnd:   summary.Period.End.Format("2006-01-02"),
		CreatedAt:   summary.CreatedAt.Format(time.RFC3339),
		Physicians:  summary.Physicians,
		Issues:      summary.Issues,
	}
}
