/*
main.go - Batch runner entry point

PURPOSE:
  Executes one compensation run from JSON input files and writes the review
  workbook, without standing up the HTTP server. Intended for cron and for
  reprocessing historical months.

COMMAND-LINE FLAGS:
  -input     Path to JSON input rows (required)
  -params    Path to JSON parameter versions (required)
  -out       Output workbook path (default: run.xlsx)
  -csv       Optional line-item CSV output path
  -tz        Canonical timezone for normalization (default: UTC)
  -workers   Per-physician parallelism (default: 4)
  -identity  Optional JSON file mapping scraped aliases to physician IDs

INPUT FORMAT:
  The -input file is the same JSON body POST /api/runs accepts. When
  period_start/period_end are omitted the previous calendar month is used.
  An "identity" map in the input file layers on top of the -identity file.
  The -params file holds an array of parameter versions in the same shape
  POST /api/parameters accepts.

EXIT CODES:
  0 on success, 1 on any failure. Row-level failures do not fail the run;
  they are reported on the Failures sheet.

EXAMPLES:
  ./runner -input=march.json -params=params.json -out=march.xlsx
  ./runner -input=march.json -params=params.json -csv=march.csv

SEE ALSO:
  - api/dto.go: Input JSON shapes
  - report/excel.go: Workbook layout
*/
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/warp/comp-engine/api"
	"github.com/warp/comp-engine/engine"
	"github.com/warp/comp-engine/report"
)

func main() {
	inputPath := flag.String("input", "", "path to JSON input rows")
	paramsPath := flag.String("params", "", "path to JSON parameter versions")
	outPath := flag.String("out", "run.xlsx", "output workbook path")
	csvPath := flag.String("csv", "", "optional line-item CSV output path")
	tz := flag.String("tz", "UTC", "canonical timezone for normalization")
	workers := flag.Int("workers", 4, "per-physician parallelism")
	identityPath := flag.String("identity", "", "JSON file mapping scraped aliases to physician IDs")
	flag.Parse()

	if *inputPath == "" || *paramsPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	loc, err := time.LoadLocation(*tz)
	if err != nil {
		logger.Fatal("invalid timezone", zap.String("tz", *tz), zap.Error(err))
	}

	input, identity, err := loadInput(*inputPath, loc)
	if err != nil {
		logger.Fatal("failed to load input", zap.Error(err))
	}

	if *identityPath != "" {
		base, err := loadIdentityTable(*identityPath)
		if err != nil {
			logger.Fatal("failed to load identity table", zap.String("path", *identityPath), zap.Error(err))
		}
		identity = base.Merge(identity)
	}

	params, err := loadParameters(*paramsPath, loc)
	if err != nil {
		logger.Fatal("failed to load parameters", zap.Error(err))
	}

	cfg := engine.EngineConfig{
		Normalizer: engine.NormalizerConfig{Location: loc, Identity: identity},
		Workers:    *workers,
	}
	result, err := engine.NewEngine(cfg, params, logger).Run(context.Background(), input)
	if err != nil {
		logger.Fatal("run failed", zap.Error(err))
	}

	logger.Info("run completed",
		zap.String("run_id", result.RunID),
		zap.String("period", result.Period.String()),
		zap.Int("ledgers", len(result.Ledgers)),
		zap.Int("issues", len(result.Issues)),
		zap.Int("row_failures", len(result.Failures)))

	workbook, err := report.ExcelWorkbook(result)
	if err != nil {
		logger.Fatal("failed to render workbook", zap.Error(err))
	}
	if err := os.WriteFile(*outPath, workbook, 0o644); err != nil {
		logger.Fatal("failed to write workbook", zap.String("path", *outPath), zap.Error(err))
	}
	logger.Info("workbook written", zap.String("path", *outPath))

	if *csvPath != "" {
		data, err := report.LineItemsCSV(result)
		if err != nil {
			logger.Fatal("failed to render csv", zap.Error(err))
		}
		if err := os.WriteFile(*csvPath, data, 0o644); err != nil {
			logger.Fatal("failed to write csv", zap.String("path", *csvPath), zap.Error(err))
		}
		logger.Info("csv written", zap.String("path", *csvPath))
	}
}

// loadInput reads the run request file and defaults the period to the
// previous calendar month when omitted. The request's identity map comes
// back separately so it can layer over the -identity file.
func loadInput(path string, loc *time.Location) (engine.RunInput, engine.IdentityTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return engine.RunInput{}, nil, err
	}

	var req api.RunRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return engine.RunInput{}, nil, err
	}

	if req.PeriodStart == "" && req.PeriodEnd == "" {
		period := engine.PreviousMonth(time.Now().In(loc), loc)
		req.PeriodStart = period.Start.Format("2006-01-02")
		req.PeriodEnd = period.End.Format("2006-01-02")
	}
	input, err := req.ToInput(loc)
	if err != nil {
		return engine.RunInput{}, nil, err
	}
	return input, engine.NewIdentityTable(req.Identity), nil
}

func loadIdentityTable(path string) (engine.IdentityTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var aliases map[string]string
	if err := json.Unmarshal(data, &aliases); err != nil {
		return nil, err
	}
	return engine.NewIdentityTable(aliases), nil
}

func loadParameters(path string, loc *time.Location) (*engine.ParameterStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var dtos []api.ParameterSetDTO
	if err := json.Unmarshal(data, &dtos); err != nil {
		return nil, err
	}

	store := engine.NewParameterStore()
	for _, dto := range dtos {
		ps, err := dto.ToParameterSet(loc)
		if err != nil {
			return nil, err
		}
		if err := store.Insert(ps); err != nil {
			return nil, err
		}
	}
	return store, nil
}
