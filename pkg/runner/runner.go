// Package runner composes request execution and assertion evaluation
// into a single Execute call. An Executor owns one underlying HTTP
// client for its lifetime and is not meant for concurrent use; Suite
// fans out over multiple executors when batches need parallelism.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"apicheck/pkg/assert"
	"apicheck/pkg/auth"
	"apicheck/pkg/httpclient"
	"apicheck/pkg/model/mauth"
	"apicheck/pkg/model/mtestresult"
	"apicheck/pkg/model/mtestspec"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type Executor struct {
	baseURL string
	authCfg *mauth.Config
	client  *http.Client
	engine  *assert.Engine
	log     *slog.Logger
}

type Option func(*Executor)

func WithTimeout(timeout time.Duration) Option {
	return func(e *Executor) { e.client = httpclient.NewWithTimeout(timeout) }
}

func WithHTTPClient(client *http.Client) Option {
	return func(e *Executor) { e.client = client }
}

func WithEngine(engine *assert.Engine) Option {
	return func(e *Executor) { e.engine = engine }
}

func WithLogger(log *slog.Logger) Option {
	return func(e *Executor) { e.log = log }
}

// New acquires the executor's HTTP client. Callers release it with
// Close; pairing the two with defer gives deterministic cleanup on
// every exit path.
func New(baseURL string, authCfg *mauth.Config, opts ...Option) *Executor {
	e := &Executor{
		baseURL: strings.TrimRight(baseURL, "/"),
		authCfg: authCfg,
		client:  httpclient.New(),
		engine:  assert.NewEngine(),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Close() {
	e.client.CloseIdleConnections()
}

// Execute runs one test: build the request, apply authentication, send
// it, evaluate assertions. Transport-level failures (DNS, refused
// connection, timeout) produce a failed result with ErrorMessage set
// and no assertion results; HTTP error statuses are ordinary responses
// for assertions to judge.
func (e *Executor) Execute(ctx context.Context, spec mtestspec.TestSpec) mtestresult.TestResult {
	executionID := uuid.NewString()

	fullURL := e.buildURL(spec)

	body, contentType, err := prepareBody(spec)
	if err != nil {
		return mtestresult.TestResult{
			ExecutionID:  executionID,
			TestName:     spec.Name,
			Status:       mtestresult.StatusFailed,
			ErrorMessage: err.Error(),
		}
	}

	headers := spec.Headers
	if contentType != "" && !hasHeader(headers, "content-type") {
		headers = cloneWith(headers, "Content-Type", contentType)
	}

	applied := auth.Apply(ctx, e.client, headers, spec.QueryParams, e.authCfg, e.log)

	req := &httpclient.Request{
		Method:  strings.ToUpper(spec.Method),
		URL:     fullURL,
		Queries: toQueries(applied.Query),
		Headers: toHeaders(applied.Headers),
		Body:    body,
	}

	resp, err := httpclient.SendRequestAndConvert(ctx, e.client, req)
	if err != nil {
		e.log.WarnContext(ctx, "test request failed",
			slog.String("test", spec.Name),
			slog.String("url", fullURL),
			slog.String("error", err.Error()))
		return mtestresult.TestResult{
			ExecutionID:  executionID,
			TestName:     spec.Name,
			Status:       mtestresult.StatusFailed,
			ErrorMessage: err.Error(),
			AuthWarning:  applied.Warning,
		}
	}

	respVar := httpclient.ConvertResponseToVar(resp)
	results := e.engine.Evaluate(spec.Assertions, respVar)

	status := mtestresult.StatusPassed
	for _, r := range results {
		if !r.Passed {
			status = mtestresult.StatusFailed
			break
		}
	}

	return mtestresult.TestResult{
		ExecutionID: executionID,
		TestName:    spec.Name,
		Status:      status,
		AuthWarning: applied.Warning,
		ResponseData: &mtestresult.ResponseData{
			StatusCode: respVar.StatusCode,
			Headers:    respVar.Headers,
			Body:       respVar.Body,
			URL:        resp.FinalURL,
			Method:     req.Method,
			DurationMS: respVar.Duration,
		},
		AssertionResults: results,
	}
}

// buildURL substitutes {var} placeholders before joining onto the base
// URL, so variables never leak into the wire path.
func (e *Executor) buildURL(spec mtestspec.TestSpec) string {
	path := spec.Path
	for name, value := range spec.PathVariables {
		path = strings.ReplaceAll(path, "{"+name+"}", value)
	}
	if path == "" {
		return e.baseURL
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return e.baseURL + path
}

// prepareBody serializes structured bodies to JSON and passes strings
// through byte-for-byte, so callers stay in control of intentionally
// malformed payloads. The returned content type is only a suggestion
// applied when the spec sets none.
func prepareBody(spec mtestspec.TestSpec) ([]byte, string, error) {
	switch body := spec.Body.(type) {
	case nil:
		return nil, "", nil
	case string:
		if json.Valid([]byte(body)) {
			return []byte(body), "application/json", nil
		}
		return []byte(body), "", nil
	case []byte:
		if json.Valid(body) {
			return body, "application/json", nil
		}
		return body, "", nil
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, "", fmt.Errorf("serialize request body: %w", err)
		}
		return data, "application/json", nil
	}
}

func hasHeader(headers map[string]string, name string) bool {
	for key := range headers {
		if strings.EqualFold(key, name) {
			return true
		}
	}
	return false
}

func cloneWith(headers map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		out[k] = v
	}
	out[key] = value
	return out
}

func toHeaders(m map[string]string) []httpclient.Header {
	out := make([]httpclient.Header, 0, len(m))
	for k, v := range m {
		out = append(out, httpclient.Header{HeaderKey: k, Value: v})
	}
	return out
}

func toQueries(m map[string]string) []httpclient.Query {
	out := make([]httpclient.Query, 0, len(m))
	for k, v := range m {
		out = append(out, httpclient.Query{QueryKey: k, Value: v})
	}
	return out
}

// Suite runs a batch of specs with bounded concurrency. Each unit of
// work gets its own executor, and with it its own client, so nothing
// is shared across goroutines.
type Suite struct {
	BaseURL     string
	Auth        *mauth.Config
	Concurrency int
	Options     []Option
}

// Run executes every spec and returns results in spec order. A failed
// test never stops the batch.
func (s *Suite) Run(ctx context.Context, specs []mtestspec.TestSpec) []mtestresult.TestResult {
	limit := s.Concurrency
	if limit <= 0 {
		limit = 1
	}

	results := make([]mtestresult.TestResult, len(specs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			exec := New(s.BaseURL, s.Auth, s.Options...)
			defer exec.Close()
			results[i] = exec.Execute(ctx, spec)
			return nil
		})
	}

	// Workers never return errors; failures live on the results.
	_ = g.Wait()
	return results
}
