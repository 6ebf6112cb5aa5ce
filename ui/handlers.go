package ui

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"abstat/adapters/dataset"
	"abstat/adapters/excel"
	"abstat/app"
	"abstat/domain/core"
	"abstat/domain/experiment"
	"abstat/internal/errors"
	"abstat/internal/testkit"
)

const maxUploadBytes = 64 << 20

// runRequest is the JSON body for POST /api/tests/run
type runRequest struct {
	ExperimentKey string                      `json:"experiment_key"`
	Config        experiment.TestConfig       `json:"config"`
	Correction    experiment.CorrectionMethod `json:"correction,omitempty"`
	Weights       experiment.GroupWeights     `json:"weights,omitempty"`
	Strategy      experiment.Strategy         `json:"strategy,omitempty"`
	Seed          int64                       `json:"seed,omitempty"`
	Strict        bool                        `json:"strict,omitempty"`
	Observations  []experiment.Observation    `json:"observations"`
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRunTest analyzes observations embedded in a JSON request body
func (a *App) handleRunTest(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUploadBytes)).Decode(&req); err != nil {
		writeError(w, errors.InvalidInput(fmt.Sprintf("decoding request body: %v", err)))
		return
	}
	if len(req.Observations) == 0 {
		writeError(w, errors.InvalidInput("request has no observations"))
		return
	}

	a.analyze(w, r, req, req.Observations)
}

// handleUploadTest analyzes an uploaded dataset file. Test parameters arrive
// as multipart form fields alongside the file.
func (a *App) handleUploadTest(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, errors.InvalidInput(fmt.Sprintf("parsing multipart form: %v", err)))
		return
	}

	file, header, err := r.FormFile("dataset")
	if err != nil {
		writeError(w, errors.InvalidInput("form is missing the dataset file"))
		return
	}
	defer file.Close()

	var records []experiment.Observation
	switch ext := strings.ToLower(filepath.Ext(header.Filename)); ext {
	case ".json":
		records, err = dataset.DecodeJSON(file)
	case ".csv":
		records, err = dataset.DecodeCSV(file)
	case ".xlsx":
		records, err = excel.DecodeWorkbook(file, r.FormValue("sheet"))
	default:
		writeError(w, errors.InvalidInput(fmt.Sprintf("unsupported dataset extension %q", ext)))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	req, err := requestFromForm(r)
	if err != nil {
		writeError(w, err)
		return
	}

	a.analyze(w, r, req, records)
}

func (a *App) analyze(w http.ResponseWriter, r *http.Request, req runRequest, records []experiment.Observation) {
	key, err := core.ParseExperimentKey(req.ExperimentKey)
	if err != nil {
		writeError(w, errors.InvalidInput(err.Error()))
		return
	}

	cfg, err := a.resolveConfig(req.Config)
	if err != nil {
		writeError(w, err)
		return
	}

	kit := testkit.NewSliceReaderAdapter(records)
	outcome, err := a.service.AnalyzeAndWrite(r.Context(), kit, a.reports, app.AnalysisRequest{
		ExperimentKey: key,
		Config:        cfg,
		Correction:    req.Correction,
		Weights:       req.Weights,
		Strategy:      req.Strategy,
		Seed:          req.Seed,
		Strict:        req.Strict,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

// lookupReport resolves the path parameter as an experiment key first and
// falls back to a report ID, so both the latest report for an experiment and
// a specific stored report are addressable.
func (a *App) lookupReport(param string) (*experiment.Report, bool) {
	if report, ok := a.reports.ByExperiment(param); ok {
		return report, true
	}
	return a.reports.ByID(param)
}

// handleGetReport returns a stored report by experiment key or report ID
func (a *App) handleGetReport(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	report, ok := a.lookupReport(key)
	if !ok {
		writeError(w, errors.NotFound(fmt.Sprintf("report %s", key)))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleReportPage renders the report as an HTML page
func (a *App) handleReportPage(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	report, ok := a.lookupReport(key)
	if !ok {
		writeError(w, errors.NotFound(fmt.Sprintf("report %s", key)))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(RenderHTML(report))
}

// resolveConfig fills unset request fields from process defaults, then
// validates the result.
func (a *App) resolveConfig(req experiment.TestConfig) (experiment.TestConfig, error) {
	cfg, err := experiment.NewTestConfig(req.TestType, req.MetricKind, a.defaults)
	if err != nil {
		return experiment.TestConfig{}, err
	}

	if req.Tails != "" {
		cfg.Tails = req.Tails
	}
	if req.Alpha != 0 {
		cfg.Alpha = req.Alpha
	}
	if req.MinDetectableEffect != 0 {
		cfg.MinDetectableEffect = req.MinDetectableEffect
	}
	if req.Correction != "" {
		cfg.Correction = req.Correction
	}
	cfg.Sequential = req.Sequential
	if req.StoppingThreshold != 0 {
		cfg.StoppingThreshold = req.StoppingThreshold
	}
	if req.FutilityThreshold != 0 {
		cfg.FutilityThreshold = req.FutilityThreshold
	}
	if req.MaxSampleSize != 0 {
		cfg.MaxSampleSize = req.MaxSampleSize
	}
	if req.PriorSuccesses != 0 {
		cfg.PriorSuccesses = req.PriorSuccesses
	}
	if req.PriorTrials != 0 {
		cfg.PriorTrials = req.PriorTrials
	}
	if req.PosteriorDraws != 0 {
		cfg.PosteriorDraws = req.PosteriorDraws
	}
	if req.UpliftMethod != "" {
		cfg.UpliftMethod = req.UpliftMethod
	}
	if req.LossTolerance != 0 {
		cfg.LossTolerance = req.LossTolerance
	}
	if req.Seed != 0 {
		cfg.Seed = req.Seed
	}
	if req.CountVariance != "" {
		cfg.CountVariance = req.CountVariance
	}

	if err := cfg.Validate(); err != nil {
		return experiment.TestConfig{}, err
	}
	return cfg, nil
}

// requestFromForm maps multipart form fields onto a run request
func requestFromForm(r *http.Request) (runRequest, error) {
	req := runRequest{
		ExperimentKey: r.FormValue("experiment_key"),
		Correction:    experiment.CorrectionMethod(r.FormValue("correction")),
		Strategy:      experiment.Strategy(r.FormValue("strategy")),
		Strict:        r.FormValue("strict") == "true",
		Config: experiment.TestConfig{
			TestType:   experiment.TestType(r.FormValue("test_type")),
			MetricKind: experiment.MetricKind(r.FormValue("metric_kind")),
			Tails:      experiment.Tails(r.FormValue("tails")),
			Sequential: r.FormValue("sequential") == "true",
		},
	}

	for field, target := range map[string]*float64{
		"alpha":              &req.Config.Alpha,
		"stopping_threshold": &req.Config.StoppingThreshold,
		"futility_threshold": &req.Config.FutilityThreshold,
	} {
		raw := r.FormValue(field)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return runRequest{}, errors.InvalidInput(fmt.Sprintf("%s %q is not numeric", field, raw))
		}
		*target = v
	}
	if raw := r.FormValue("max_sample_size"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return runRequest{}, errors.InvalidInput(fmt.Sprintf("max_sample_size %q is not an integer", raw))
		}
		req.Config.MaxSampleSize = v
	}
	if raw := r.FormValue("seed"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return runRequest{}, errors.InvalidInput(fmt.Sprintf("seed %q is not an integer", raw))
		}
		req.Seed = v
		req.Config.Seed = v
	}
	if raw := r.FormValue("weights"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Weights); err != nil {
			return runRequest{}, errors.InvalidInput(fmt.Sprintf("weights: %v", err))
		}
	}

	return req, nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	code := errors.GetCode(err)
	status := http.StatusInternalServerError
	switch code {
	case errors.CodeConfigInvalid, errors.CodeInvalidInput, errors.CodeDatasetError:
		status = http.StatusBadRequest
	case errors.CodeInsufficientData:
		status = http.StatusUnprocessableEntity
	case errors.CodeNotFound:
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "code": code})
}
