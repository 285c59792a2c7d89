package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/noah-isme/credential-eval-api/internal/models"
	"github.com/noah-isme/credential-eval-api/internal/service"
	"github.com/noah-isme/credential-eval-api/pkg/config"
	"github.com/noah-isme/credential-eval-api/pkg/extraction"
	"github.com/noah-isme/credential-eval-api/pkg/llm"
	"github.com/noah-isme/credential-eval-api/pkg/logger"
)

// testCase is one document with the outcome it must evaluate to. Either File
// (extracted and structured through the language model) or Record is set.
type testCase struct {
	Name         string                 `json:"name"`
	File         string                 `json:"file"`
	DocumentType models.DocumentType    `json:"documentType"`
	Record       *models.AcademicRecord `json:"record"`
	CountryCode  string                 `json:"countryCode"`
	ExpectGPA    *float64               `json:"expectGpa"`
	ExpectGrades []string               `json:"expectGrades"`
	ExpectDegree string                 `json:"expectDegree"`
	Critical     bool                   `json:"critical"`
}

type manifest struct {
	Rules map[string]models.RuleDefinition `json:"rules"`
	Cases []testCase                       `json:"cases"`
}

type outcome struct {
	Case     testCase
	Result   *models.EquivalencyResult
	Diffs    []string
	Error    error
	Duration time.Duration
}

func main() {
	var (
		manifestPath string
		timeout      time.Duration
	)

	flag.StringVar(&manifestPath, "manifest", filepath.Join("scripts", "equivalency_check", "cases.json"), "Path to JSON manifest with rules and cases")
	flag.DurationVar(&timeout, "timeout", 2*time.Minute, "Per case timeout")
	flag.Parse()

	m, err := loadManifest(manifestPath)
	if err != nil {
		log.Fatalf("failed to load manifest: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	extractor := extraction.NewExtractor(extraction.Config{
		Pdftoppm:  cfg.OCR.Pdftoppm,
		Tesseract: cfg.OCR.Tesseract,
		Language:  cfg.OCR.Language,
		DPI:       cfg.OCR.DPI,
		Timeout:   cfg.OCR.Timeout,
	}, logr)
	engine := service.NewEquivalencyEngine()

	var structurer *service.StructuredExtractor
	if needsModel(m.Cases) {
		model, err := llm.New(context.Background(), cfg.LLM, logr)
		if err != nil {
			log.Fatalf("failed to init language model: %v", err)
		}
		defer model.Close() //nolint:errcheck
		structurer = service.NewStructuredExtractor(model, nil, logr)
	}

	var (
		outcomes     []outcome
		breaking     int
		optionalDiff int
	)
	for _, tc := range m.Cases {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		out := runCase(ctx, extractor, structurer, engine, m.Rules, tc)
		cancel()
		if out.Error != nil || len(out.Diffs) > 0 {
			if tc.Critical {
				breaking++
			} else {
				optionalDiff++
			}
		}
		outcomes = append(outcomes, out)
	}

	printReport(outcomes)

	fmt.Printf("Breaking diffs: %d, Optional diffs: %d\n", breaking, optionalDiff)
	if breaking > 0 {
		os.Exit(1)
	}
}

func loadManifest(path string) (*manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if len(m.Cases) == 0 {
		return nil, fmt.Errorf("no cases defined in %s", path)
	}
	base := filepath.Dir(path)
	for i := range m.Cases {
		if m.Cases[i].File != "" && !filepath.IsAbs(m.Cases[i].File) {
			m.Cases[i].File = filepath.Join(base, m.Cases[i].File)
		}
	}
	return &m, nil
}

func needsModel(cases []testCase) bool {
	for _, tc := range cases {
		if tc.Record == nil {
			return true
		}
	}
	return false
}

func runCase(ctx context.Context, extractor *extraction.Extractor, structurer *service.StructuredExtractor, engine *service.EquivalencyEngine, rules map[string]models.RuleDefinition, tc testCase) outcome {
	out := outcome{Case: tc}
	start := time.Now()
	defer func() { out.Duration = time.Since(start) }()

	country := models.NormalizeCountryCode(tc.CountryCode)
	definition, ok := rules[country]
	if !ok {
		out.Error = fmt.Errorf("no rules for country %q", country)
		return out
	}

	record := tc.Record
	if record == nil {
		if tc.File == "" {
			out.Error = errors.New("case needs a file or a record")
			return out
		}
		data, err := os.ReadFile(tc.File)
		if err != nil {
			out.Error = err
			return out
		}
		text, err := extractor.Extract(ctx, data, mime.TypeByExtension(filepath.Ext(tc.File)))
		if err != nil {
			out.Error = fmt.Errorf("extract: %w", err)
			return out
		}
		record, err = structurer.Structure(ctx, text.Text, tc.DocumentType)
		if err != nil {
			out.Error = fmt.Errorf("structure: %w", err)
			return out
		}
	}

	result, err := engine.Evaluate(record, &models.CountryRuleSet{CountryCode: country, Rules: definition, Source: models.RuleSetSourceManual})
	if err != nil {
		out.Error = fmt.Errorf("evaluate: %w", err)
		return out
	}
	out.Result = result
	out.Diffs = compare(tc, result)
	return out
}

func compare(tc testCase, result *models.EquivalencyResult) []string {
	var diffs []string
	if tc.ExpectGPA != nil {
		switch {
		case result.NormalizedGPA == nil:
			diffs = append(diffs, fmt.Sprintf("gpa: want %.2f, got none", *tc.ExpectGPA))
		case math.Abs(*result.NormalizedGPA-*tc.ExpectGPA) > 0.005:
			diffs = append(diffs, fmt.Sprintf("gpa: want %.2f, got %.2f", *tc.ExpectGPA, *result.NormalizedGPA))
		}
	}
	if len(tc.ExpectGrades) > 0 {
		got := make([]string, 0, len(result.Courses))
		for _, course := range result.Courses {
			got = append(got, course.USGrade)
		}
		if strings.Join(got, ",") != strings.Join(tc.ExpectGrades, ",") {
			diffs = append(diffs, fmt.Sprintf("grades: want %v, got %v", tc.ExpectGrades, got))
		}
	}
	if tc.ExpectDegree != "" {
		got := ""
		if result.Degree != nil {
			got = result.Degree.USEquivalent
		}
		if got != tc.ExpectDegree {
			diffs = append(diffs, fmt.Sprintf("degree: want %q, got %q", tc.ExpectDegree, got))
		}
	}
	return diffs
}

func printReport(results []outcome) {
	fmt.Println("Equivalency Check Report")
	fmt.Println("========================")
	for _, res := range results {
		status := "OK"
		if res.Error != nil {
			status = "ERROR"
		} else if len(res.Diffs) > 0 {
			status = "DIFF"
		}
		fmt.Printf("[%s] %s (%s, %s)\n", status, res.Case.Name, res.Case.CountryCode, res.Duration)
		if res.Error != nil {
			fmt.Printf("  Error: %v\n", res.Error)
			continue
		}
		if res.Result.Note != "" {
			fmt.Printf("  Note: %s\n", res.Result.Note)
		}
		for _, diff := range res.Diffs {
			fmt.Printf("  %s | Critical: %t\n", diff, res.Case.Critical)
		}
	}
}
