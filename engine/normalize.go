/*
normalize.go - Raw row to canonical record conversion

PURPOSE:
  Converts heterogeneous raw rows from the two source collaborators into
  canonical ShiftRecord and BillingRecord values: one timezone, one physician
  identity space, typed fields.

SOURCE SHAPES:
  Database rows carry full timestamps and canonical physician IDs.
  Scraped roster rows carry a calendar date plus clock-time strings and the
  physician name as displayed; names resolve through the identity table and
  an end time at or before the start time means the shift runs overnight.

FAILURE POLICY:
  No silent truncation. A row that cannot be normalized is excluded from
  downstream processing and recorded as a RowFailure (mapping or malformed),
  so the run report accounts for every input row.
*/
package engine

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// RAW ROWS - As handed over by the I/O collaborators
// =============================================================================

// RawShiftRow is one shift row as produced by either collaborator. Database
// rows populate Start/End with full timestamps; scraped rows populate Date
// plus clock-time Start/End strings.
type RawShiftRow struct {
	Source    Source
	SourceKey string
	Physician string
	Date      string // "2006-01-02", scraped rows only
	Start     string // RFC3339 timestamp, or "15:04" clock time with Date
	End       string
}

// RawBillingRow is one billing row from the database collaborator.
type RawBillingRow struct {
	SourceKey string
	Physician string
	Date      string // "2006-01-02"
	WRVU      string
	ShiftKey  string // best-effort link to a shift's source key
}

// =============================================================================
// IDENTITY TABLE - Alias to canonical physician ID
// =============================================================================

// IdentityTable maps display aliases from the scraped source to canonical
// physician IDs. Lookups are case-insensitive and whitespace-trimmed.
type IdentityTable map[string]PhysicianID

// NewIdentityTable builds a table from raw alias/ID pairs, canonicalizing
// the alias keys. Use this for tables loaded from configuration or requests
// so lookup normalization and key normalization cannot drift apart.
func NewIdentityTable(aliases map[string]string) IdentityTable {
	t := make(IdentityTable, len(aliases))
	for alias, id := range aliases {
		t[strings.ToLower(strings.TrimSpace(alias))] = PhysicianID(id)
	}
	return t
}

// Merge returns a copy of the table with the overlay's entries added on
// top. Neither input is mutated; a nil receiver is a valid base.
func (t IdentityTable) Merge(overlay IdentityTable) IdentityTable {
	merged := make(IdentityTable, len(t)+len(overlay))
	for alias, id := range t {
		merged[alias] = id
	}
	for alias, id := range overlay {
		merged[alias] = id
	}
	return merged
}

func (t IdentityTable) Resolve(alias string) (PhysicianID, bool) {
	id, ok := t[strings.ToLower(strings.TrimSpace(alias))]
	return id, ok
}

// =============================================================================
// NORMALIZER
// =============================================================================

type NormalizerConfig struct {
	// Location is the canonical timezone every timestamp normalizes to.
	Location *time.Location

	// Identity resolves scraped-source aliases. Database rows already carry
	// canonical IDs and bypass the table.
	Identity IdentityTable
}

type Normalizer struct {
	cfg NormalizerConfig
	log *zap.Logger
}

func NewNormalizer(cfg NormalizerConfig, logger *zap.Logger) *Normalizer {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{cfg: cfg, log: logger}
}

// Normalize converts raw shift rows into canonical records. Failing rows are
// excluded and reported, never silently dropped.
func (n *Normalizer) Normalize(rows []RawShiftRow) ([]ShiftRecord, []RowFailure) {
	var records []ShiftRecord
	var failures []RowFailure

	for _, row := range rows {
		rec, err := n.normalizeRow(row)
		if err != nil {
			failures = append(failures, n.rowFailure(row.Source, row.SourceKey, err))
			continue
		}
		records = append(records, rec)
	}
	return records, failures
}

func (n *Normalizer) normalizeRow(row RawShiftRow) (ShiftRecord, error) {
	if row.Physician == "" {
		return ShiftRecord{}, &MalformedRecordError{Source: row.Source, SourceKey: row.SourceKey, Field: "physician", Detail: "missing"}
	}
	if row.Start == "" || row.End == "" {
		return ShiftRecord{}, &MalformedRecordError{Source: row.Source, SourceKey: row.SourceKey, Field: "start/end", Detail: "missing"}
	}

	physician, err := n.resolvePhysician(row)
	if err != nil {
		return ShiftRecord{}, err
	}

	start, err := n.parseTimestamp(row, "start", row.Start)
	if err != nil {
		return ShiftRecord{}, err
	}
	end, err := n.parseTimestamp(row, "end", row.End)
	if err != nil {
		return ShiftRecord{}, err
	}

	// Scraped roster rows carry clock times only; an end at or before the
	// start denotes an overnight shift ending the next day.
	if !end.After(start) && row.Date != "" {
		end = end.AddDate(0, 0, 1)
	}
	if !end.After(start) {
		return ShiftRecord{}, &MalformedRecordError{Source: row.Source, SourceKey: row.SourceKey, Field: "end", Detail: "end not after start"}
	}

	return ShiftRecord{
		Physician: physician,
		Start:     start,
		End:       end,
		Source:    row.Source,
		SourceKey: row.SourceKey,
	}, nil
}

func (n *Normalizer) resolvePhysician(row RawShiftRow) (PhysicianID, error) {
	if row.Source != SourceScraped {
		return PhysicianID(strings.TrimSpace(row.Physician)), nil
	}
	id, ok := n.cfg.Identity.Resolve(row.Physician)
	if !ok {
		return "", &MappingError{Source: row.Source, SourceKey: row.SourceKey, Alias: row.Physician}
	}
	return id, nil
}

// parseTimestamp accepts a full RFC3339 timestamp, or a clock time combined
// with the row's date. Everything normalizes to the canonical location.
func (n *Normalizer) parseTimestamp(row RawShiftRow, field, value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.In(n.cfg.Location), nil
	}

	if row.Date == "" {
		return time.Time{}, &MalformedRecordError{Source: row.Source, SourceKey: row.SourceKey, Field: field, Detail: "unparseable timestamp " + value}
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, row.Date+" "+value, n.cfg.Location); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &MalformedRecordError{Source: row.Source, SourceKey: row.SourceKey, Field: field, Detail: "unparseable time " + value}
}

// NormalizeBilling converts raw billing rows into BillingRecords.
func (n *Normalizer) NormalizeBilling(rows []RawBillingRow) ([]BillingRecord, []RowFailure) {
	var records []BillingRecord
	var failures []RowFailure

	for _, row := range rows {
		rec, err := n.normalizeBillingRow(row)
		if err != nil {
			failures = append(failures, n.rowFailure(SourceDatabase, row.SourceKey, err))
			continue
		}
		records = append(records, rec)
	}
	return records, failures
}

func (n *Normalizer) normalizeBillingRow(row RawBillingRow) (BillingRecord, error) {
	if row.Physician == "" {
		return BillingRecord{}, &MalformedRecordError{Source: SourceDatabase, SourceKey: row.SourceKey, Field: "physician", Detail: "missing"}
	}
	date, err := time.ParseInLocation("2006-01-02", row.Date, n.cfg.Location)
	if err != nil {
		return BillingRecord{}, &MalformedRecordError{Source: SourceDatabase, SourceKey: row.SourceKey, Field: "date", Detail: "unparseable date " + row.Date}
	}
	wrvu, err := decimal.NewFromString(row.WRVU)
	if err != nil {
		return BillingRecord{}, &MalformedRecordError{Source: SourceDatabase, SourceKey: row.SourceKey, Field: "wrvu", Detail: "unparseable quantity " + row.WRVU}
	}

	return BillingRecord{
		Physician: PhysicianID(strings.TrimSpace(row.Physician)),
		Date:      date,
		WRVU:      wrvu,
		ShiftKey:  row.ShiftKey,
	}, nil
}

func (n *Normalizer) rowFailure(source Source, key string, err error) RowFailure {
	kind := FailureMalformed
	var merr *MappingError
	if errors.As(err, &merr) {
		kind = FailureMapping
	}
	n.log.Warn("row excluded",
		zap.String("source", string(source)),
		zap.String("source_key", key),
		zap.String("kind", string(kind)),
		zap.Error(err))
	return RowFailure{Source: source, SourceKey: key, Kind: kind, Detail: err.Error()}
}
