package ui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abstat/domain/experiment"
)

func newTestApp() *App {
	return NewApp(Config{Port: "0", Defaults: experiment.StandardDefaults()})
}

func observationsJSON(group string, successes, trials int) string {
	var b strings.Builder
	for i := 0; i < trials; i++ {
		if b.Len() > 0 {
			b.WriteString(",")
		}
		value := 0
		if i < successes {
			value = 1
		}
		fmt.Fprintf(&b, `{"subject_id":"%s-%04d","group":"%s","value":%d}`, group, i, group, value)
	}
	return b.String()
}

func runBody(key string) string {
	return fmt.Sprintf(`{
		"experiment_key": %q,
		"config": {"test_type": "frequentist", "metric_kind": "binary"},
		"observations": [%s,%s]
	}`, key, observationsJSON("control", 100, 1000), observationsJSON("treatment", 150, 1000))
}

func postJSON(t *testing.T, app *App, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	app.Router().ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, app *App, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	app.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	rec := get(t, newTestApp(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestRunTest_HappyPath(t *testing.T) {
	app := newTestApp()

	rec := postJSON(t, app, "/api/tests/run", runBody("cta-test"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var outcome struct {
		Report struct {
			ExperimentKey string `json:"experiment_key"`
			Results       []struct {
				Name     string `json:"name"`
				Decision string `json:"decision"`
			} `json:"results"`
		} `json:"report"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	assert.Equal(t, "cta-test", outcome.Report.ExperimentKey)
	require.Len(t, outcome.Report.Results, 1)
	assert.Equal(t, "treatment", outcome.Report.Results[0].Name)
	assert.Equal(t, "significant", outcome.Report.Results[0].Decision)
}

func TestRunTest_BadRequests(t *testing.T) {
	app := newTestApp()

	rec := postJSON(t, app, "/api/tests/run", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, app, "/api/tests/run",
		`{"experiment_key":"x","config":{"test_type":"frequentist","metric_kind":"binary"},"observations":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "no observations")

	body := fmt.Sprintf(`{
		"experiment_key": "x",
		"config": {"test_type": "frequentist", "metric_kind": "binary", "alpha": 2},
		"observations": [%s]
	}`, observationsJSON("control", 1, 10))
	rec = postJSON(t, app, "/api/tests/run", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "alpha outside (0, 1)")

	body = strings.Replace(runBody("x"), `"experiment_key": "x"`, `"experiment_key": ""`, 1)
	rec = postJSON(t, app, "/api/tests/run", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "empty experiment key")
}

func TestGetReport(t *testing.T) {
	app := newTestApp()

	rec := get(t, app, "/api/reports/unknown-key")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.Equal(t, http.StatusOK, postJSON(t, app, "/api/tests/run", runBody("stored-exp")).Code)

	rec = get(t, app, "/api/reports/stored-exp")
	require.Equal(t, http.StatusOK, rec.Code)
	var report struct {
		ExperimentKey string `json:"experiment_key"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "stored-exp", report.ExperimentKey)
}

func TestGetReport_ByID(t *testing.T) {
	app := newTestApp()

	rec := postJSON(t, app, "/api/tests/run", runBody("id-exp"))
	require.Equal(t, http.StatusOK, rec.Code)
	var outcome struct {
		Report struct {
			ID string `json:"id"`
		} `json:"report"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	require.NotEmpty(t, outcome.Report.ID)

	rec = get(t, app, "/api/reports/"+outcome.Report.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	var report struct {
		ID            string `json:"id"`
		ExperimentKey string `json:"experiment_key"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, outcome.Report.ID, report.ID)
	assert.Equal(t, "id-exp", report.ExperimentKey)
}

func TestReportPage(t *testing.T) {
	app := newTestApp()
	require.Equal(t, http.StatusOK, postJSON(t, app, "/api/tests/run", runBody("page-exp")).Code)

	rec := get(t, app, "/reports/page-exp")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "page-exp")
	assert.Contains(t, rec.Body.String(), "<h2")

	rec = get(t, app, "/reports/missing-exp")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadTest_CSV(t *testing.T) {
	app := newTestApp()

	var csv strings.Builder
	csv.WriteString("subject_id,group,value\n")
	for i := 0; i < 400; i++ {
		fmt.Fprintf(&csv, "c-%03d,control,%d\n", i, boolToInt(i < 40))
		fmt.Fprintf(&csv, "t-%03d,treatment,%d\n", i, boolToInt(i < 60))
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	require.NoError(t, form.WriteField("experiment_key", "upload-exp"))
	require.NoError(t, form.WriteField("test_type", "frequentist"))
	require.NoError(t, form.WriteField("metric_kind", "binary"))
	part, err := form.CreateFormFile("dataset", "records.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte(csv.String()))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/tests/upload", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	app.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "upload-exp")

	// The uploaded report is retrievable like any other.
	assert.Equal(t, http.StatusOK, get(t, app, "/api/reports/upload-exp").Code)
}

func TestUploadTest_Errors(t *testing.T) {
	app := newTestApp()

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	require.NoError(t, form.WriteField("experiment_key", "x"))
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/tests/upload", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	app.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing dataset file")

	body.Reset()
	form = multipart.NewWriter(&body)
	part, err := form.CreateFormFile("dataset", "records.parquet")
	require.NoError(t, err)
	_, err = part.Write([]byte("binary"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req = httptest.NewRequest(http.MethodPost, "/api/tests/upload", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec = httptest.NewRecorder()
	app.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unsupported extension")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
