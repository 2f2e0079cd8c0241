//nolint:revive // exported
package httpclient

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"apicheck/pkg/compress"

	json "github.com/goccy/go-json"
	"golang.org/x/net/html/charset"
)

type HttpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

const TimeoutRequest = 30 * time.Second

// New returns a client with a single deadline covering connect+read.
// Redirects are followed; the response assertions run against is the
// post-redirect one.
func New() *http.Client {
	return NewWithTimeout(TimeoutRequest)
}

func NewWithTimeout(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
	}
}

type Query struct {
	QueryKey string
	Value    string
}

type Header struct {
	HeaderKey string
	Value     string
}

type Request struct {
	Method  string
	URL     string
	Queries []Query
	Headers []Header
	Body    []byte
}

type Response struct {
	StatusCode int      `json:"statusCode"`
	Body       []byte   `json:"body"`
	Headers    []Header `json:"headers"`
	// FinalURL is the URL after redirect following.
	FinalURL string `json:"finalUrl"`
	Duration time.Duration
}

// ResponseVar is the decoded view assertions and expressions resolve
// against.
type ResponseVar struct {
	StatusCode int               `json:"status"`
	Body       any               `json:"body"`
	Headers    map[string]string `json:"headers"`
	Duration   int64             `json:"duration"`
}

// ConvertResponseToVar decodes the body into a JSON value when it is
// valid JSON, otherwise keeps the raw text. Numbers stay json.Number to
// avoid float drift in comparisons.
func ConvertResponseToVar(r Response) ResponseVar {
	headersMap := make(map[string]string)
	for _, header := range r.Headers {
		if _, ok := headersMap[header.HeaderKey]; !ok {
			headersMap[header.HeaderKey] = header.Value
		}
	}

	return ResponseVar{
		StatusCode: r.StatusCode,
		Body:       DecodeBodyValue(r.Body),
		Headers:    headersMap,
		Duration:   r.Duration.Milliseconds(),
	}
}

func DecodeBodyValue(body []byte) any {
	if json.Valid(body) {
		var jsonBody any
		decoder := json.NewDecoder(bytes.NewReader(body))
		decoder.UseNumber()
		if err := decoder.Decode(&jsonBody); err == nil {
			return jsonBody
		}
	}
	return string(body)
}

func SendRequest(client HttpClient, req *Request) (*http.Response, error) {
	return SendRequestWithContext(context.Background(), client, req)
}

func SendRequestWithContext(ctx context.Context, client HttpClient, req *Request) (*http.Response, error) {
	reqRaw, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}

	qNew := ConvertQueriesToUrl(req.Queries, reqRaw.URL.Query())
	reqRaw.URL.RawQuery = qNew.Encode()
	reqRaw.Header = ConvertHeadersToHttp(req.Headers)
	return client.Do(reqRaw)
}

// SendRequestAndConvert performs the call and normalizes the response:
// Content-Encoding is decompressed and the body converted to UTF-8 when
// the Content-Type names a charset. The measured duration covers the
// round trip including body read.
func SendRequestAndConvert(ctx context.Context, client HttpClient, req *Request) (Response, error) {
	start := time.Now()
	resp, err := SendRequestWithContext(ctx, client, req)
	if err != nil {
		return Response{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, err
	}
	lapse := time.Since(start)

	encoding := strings.ToLower(resp.Header.Get("Content-Encoding"))
	if encoding != "" {
		// The stdlib transport already unwraps gzip it negotiated
		// itself; an encoding header that survives here was explicit.
		if decompressed, derr := compress.DecompressWithContentEncodeStr(body, encoding); derr == nil {
			body = decompressed
		}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" {
		reader, cerr := charset.NewReader(bytes.NewReader(body), contentType)
		if cerr == nil {
			converted, rerr := io.ReadAll(reader)
			if rerr == nil {
				body = converted
			}
		}
	}

	finalURL := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		Headers:    ConvertHttpHeaderToHeaders(resp.Header),
		FinalURL:   finalURL,
		Duration:   lapse,
	}, nil
}

func ConvertHttpHeaderToHeaders(headers http.Header) []Header {
	result := make([]Header, 0, len(headers))
	for key, values := range headers {
		for _, value := range values {
			result = append(result, Header{
				HeaderKey: key,
				Value:     value,
			})
		}
	}
	return result
}

func ConvertHeadersToHttp(headers []Header) http.Header {
	result := make(http.Header)
	for _, header := range headers {
		result.Add(header.HeaderKey, header.Value)
	}
	return result
}

func ConvertQueriesToUrl(queries []Query, u url.Values) url.Values {
	for _, query := range queries {
		u.Add(query.QueryKey, query.Value)
	}
	return u
}
