package runner_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"apicheck/pkg/assert"
	"apicheck/pkg/model/mauth"
	"apicheck/pkg/model/mtestresult"
	"apicheck/pkg/model/mtestspec"
	"apicheck/pkg/runner"

	tassert "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutePassingTest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 42, "name": "ada"}`))
	}))
	defer server.Close()

	exec := runner.New(server.URL, nil)
	defer exec.Close()

	result := exec.Execute(context.Background(), mtestspec.TestSpec{
		Name:   "get user",
		Method: "GET",
		Path:   "/users/42",
		Assertions: []mtestspec.Assertion{
			{Type: mtestspec.AssertionTypeStatusCode, Expected: 200},
			{Type: mtestspec.AssertionTypeEquals, Path: "name", Expected: "ada"},
			{Type: mtestspec.AssertionTypeExists, Path: "id"},
		},
	})

	tassert.Equal(t, mtestresult.StatusPassed, result.Status)
	tassert.NotEmpty(t, result.ExecutionID)
	tassert.Empty(t, result.ErrorMessage)
	require.Len(t, result.AssertionResults, 3)
	require.NotNil(t, result.ResponseData)
	tassert.Equal(t, 200, result.ResponseData.StatusCode)
	tassert.Equal(t, "GET", result.ResponseData.Method)
	tassert.GreaterOrEqual(t, result.ResponseData.DurationMS, int64(0))
}

func TestExecuteHTTPErrorStatusIsNotTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail": "not found"}`))
	}))
	defer server.Close()

	exec := runner.New(server.URL, nil)
	defer exec.Close()

	result := exec.Execute(context.Background(), mtestspec.TestSpec{
		Name:   "expects missing resource",
		Method: "GET",
		Path:   "/nope",
		Assertions: []mtestspec.Assertion{
			{Type: mtestspec.AssertionTypeStatusCode, Expected: 404},
			{Type: mtestspec.AssertionTypeEquals, Path: "detail", Expected: "not found"},
		},
	})

	tassert.Equal(t, mtestresult.StatusPassed, result.Status, "a 404 is a response, not a failure")
	tassert.Empty(t, result.ErrorMessage)
}

func TestExecuteTransportError(t *testing.T) {
	// Reserve a port and close it so the connection is refused.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	exec := runner.New(url, nil)
	defer exec.Close()

	result := exec.Execute(context.Background(), mtestspec.TestSpec{
		Name:   "unreachable",
		Method: "GET",
		Path:   "/",
		Assertions: []mtestspec.Assertion{
			{Type: mtestspec.AssertionTypeStatusCode, Expected: 200},
		},
	})

	tassert.Equal(t, mtestresult.StatusFailed, result.Status)
	tassert.NotEmpty(t, result.ErrorMessage)
	tassert.Empty(t, result.AssertionResults, "assertions never run without a response")
	tassert.Nil(t, result.ResponseData)
}

func TestExecuteSubstitutesPathVariables(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	exec := runner.New(server.URL, nil)
	defer exec.Close()

	exec.Execute(context.Background(), mtestspec.TestSpec{
		Name:          "path vars",
		Method:        "GET",
		Path:          "/users/{userId}/orders/{orderId}",
		PathVariables: map[string]string{"userId": "7", "orderId": "1001"},
	})

	tassert.Equal(t, "/users/7/orders/1001", gotPath)
}

func TestExecuteSendsQueryHeadersAndBody(t *testing.T) {
	var (
		gotQuery       string
		gotAuth        string
		gotContentType string
		gotBody        []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("active")
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"created": true}`))
	}))
	defer server.Close()

	exec := runner.New(server.URL, &mauth.Config{Kind: mauth.KindBearer, Token: "tok"})
	defer exec.Close()

	result := exec.Execute(context.Background(), mtestspec.TestSpec{
		Name:        "create user",
		Method:      "POST",
		Path:        "/users",
		QueryParams: map[string]string{"active": "true"},
		Body:        map[string]any{"name": "ada"},
		Assertions: []mtestspec.Assertion{
			{Type: mtestspec.AssertionTypeStatusCode, Expected: 201},
		},
	})

	tassert.Equal(t, mtestresult.StatusPassed, result.Status)
	tassert.Equal(t, "true", gotQuery)
	tassert.Equal(t, "Bearer tok", gotAuth)
	tassert.Equal(t, "application/json", gotContentType, "inferred for structured bodies")
	tassert.JSONEq(t, `{"name": "ada"}`, string(gotBody))
}

func TestExecuteKeepsExplicitContentType(t *testing.T) {
	var gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	exec := runner.New(server.URL, nil)
	defer exec.Close()

	exec.Execute(context.Background(), mtestspec.TestSpec{
		Name:    "explicit content type",
		Method:  "POST",
		Path:    "/ingest",
		Headers: map[string]string{"content-type": "application/vnd.custom+json"},
		Body:    `{"k": 1}`,
	})

	tassert.Equal(t, "application/vnd.custom+json", gotContentType)
}

func TestExecuteStringBodyPassedVerbatim(t *testing.T) {
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	exec := runner.New(server.URL, nil)
	defer exec.Close()

	raw := `{"intentionally":  "spaced"}`
	exec.Execute(context.Background(), mtestspec.TestSpec{
		Name:   "raw body",
		Method: "POST",
		Path:   "/echo",
		Body:   raw,
	})

	tassert.Equal(t, raw, string(gotBody), "string bodies are not re-serialized")
}

func TestExecuteFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"moved": true}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	exec := runner.New(server.URL, nil)
	defer exec.Close()

	result := exec.Execute(context.Background(), mtestspec.TestSpec{
		Name:   "redirect",
		Method: "GET",
		Path:   "/old",
		Assertions: []mtestspec.Assertion{
			{Type: mtestspec.AssertionTypeStatusCode, Expected: 200},
		},
	})

	tassert.Equal(t, mtestresult.StatusPassed, result.Status)
	require.NotNil(t, result.ResponseData)
	tassert.Equal(t, server.URL+"/new", result.ResponseData.URL, "final URL after redirects")
}

func TestExecuteFailingAssertionFailsTest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status": "pending"}`))
	}))
	defer server.Close()

	exec := runner.New(server.URL, nil, runner.WithEngine(assert.NewEngine(assert.WithArrayOrderTolerance(false))))
	defer exec.Close()

	result := exec.Execute(context.Background(), mtestspec.TestSpec{
		Name:   "mixed outcomes",
		Method: "GET",
		Path:   "/jobs/1",
		Assertions: []mtestspec.Assertion{
			{Type: mtestspec.AssertionTypeStatusCode, Expected: 200},
			{Type: mtestspec.AssertionTypeEquals, Path: "status", Expected: "done"},
		},
	})

	tassert.Equal(t, mtestresult.StatusFailed, result.Status)
	require.Len(t, result.AssertionResults, 2)
	tassert.True(t, result.AssertionResults[0].Passed)
	tassert.False(t, result.AssertionResults[1].Passed)
}

func TestSuiteRunKeepsSpecOrder(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"path": "` + r.URL.Path + `"}`))
	}))
	defer server.Close()

	specs := []mtestspec.TestSpec{
		{Name: "first", Method: "GET", Path: "/a"},
		{Name: "second", Method: "GET", Path: "/b"},
		{Name: "third", Method: "GET", Path: "/c"},
	}

	suite := runner.Suite{BaseURL: server.URL, Concurrency: 3}
	results := suite.Run(context.Background(), specs)

	require.Len(t, results, 3)
	tassert.Equal(t, int64(3), calls.Load())
	for i, r := range results {
		tassert.Equal(t, specs[i].Name, r.TestName)
		tassert.Equal(t, mtestresult.StatusPassed, r.Status)
	}
}

func TestSuiteRunToleratesFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			w.WriteHeader(http.StatusInternalServerError)
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	specs := []mtestspec.TestSpec{
		{Name: "ok", Method: "GET", Path: "/good", Assertions: []mtestspec.Assertion{
			{Type: mtestspec.AssertionTypeStatusCode, Expected: 200},
		}},
		{Name: "broken", Method: "GET", Path: "/bad", Assertions: []mtestspec.Assertion{
			{Type: mtestspec.AssertionTypeStatusCode, Expected: 200},
		}},
		{Name: "also ok", Method: "GET", Path: "/good", Assertions: []mtestspec.Assertion{
			{Type: mtestspec.AssertionTypeStatusCode, Expected: 200},
		}},
	}

	suite := runner.Suite{BaseURL: server.URL}
	results := suite.Run(context.Background(), specs)

	require.Len(t, results, 3)
	tassert.Equal(t, mtestresult.StatusPassed, results[0].Status)
	tassert.Equal(t, mtestresult.StatusFailed, results[1].Status)
	tassert.Equal(t, mtestresult.StatusPassed, results[2].Status, "one failure never stops the batch")
}
