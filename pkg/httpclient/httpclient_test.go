package httpclient_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"apicheck/pkg/httpclient"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
)

func TestConvertResponseToVar(t *testing.T) {
	tests := []struct {
		name     string
		response httpclient.Response
		expected httpclient.ResponseVar
	}{
		{
			name: "json object body",
			response: httpclient.Response{
				StatusCode: 200,
				Body:       []byte(`{"key": "value"}`),
				Headers:    []httpclient.Header{{HeaderKey: "Content-Type", Value: "application/json"}},
				Duration:   1500 * time.Millisecond,
			},
			expected: httpclient.ResponseVar{
				StatusCode: 200,
				Body:       map[string]any{"key": "value"},
				Headers:    map[string]string{"Content-Type": "application/json"},
				Duration:   1500,
			},
		},
		{
			name: "non-json body stays text",
			response: httpclient.Response{
				StatusCode: 500,
				Body:       []byte("internal error"),
				Headers:    []httpclient.Header{},
			},
			expected: httpclient.ResponseVar{
				StatusCode: 500,
				Body:       "internal error",
				Headers:    map[string]string{},
			},
		},
		{
			name: "first value wins for repeated headers",
			response: httpclient.Response{
				StatusCode: 200,
				Body:       []byte(`{}`),
				Headers: []httpclient.Header{
					{HeaderKey: "Set-Cookie", Value: "a=1"},
					{HeaderKey: "Set-Cookie", Value: "b=2"},
				},
			},
			expected: httpclient.ResponseVar{
				StatusCode: 200,
				Body:       map[string]any{},
				Headers:    map[string]string{"Set-Cookie": "a=1"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := httpclient.ConvertResponseToVar(tt.response)
			gotJSON, _ := json.Marshal(got)
			wantJSON, _ := json.Marshal(tt.expected)
			if !bytes.Equal(gotJSON, wantJSON) {
				t.Errorf("ConvertResponseToVar() = %s, want %s", gotJSON, wantJSON)
			}
		})
	}
}

func TestDecodeBodyValueKeepsNumberPrecision(t *testing.T) {
	v := httpclient.DecodeBodyValue([]byte(`{"id": 9007199254740993}`))
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", v)
	}
	n, ok := m["id"].(json.Number)
	if !ok {
		t.Fatalf("expected json.Number, got %T", m["id"])
	}
	if n.String() != "9007199254740993" {
		t.Errorf("precision lost: %s", n)
	}
}

func TestSendRequestAndConvert(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "1" {
			t.Errorf("query q = %q", got)
		}
		if got := r.Header.Get("X-Test"); got != "yes" {
			t.Errorf("header X-Test = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"in": true}` {
			t.Errorf("body = %s", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"out": true}`))
	}))
	defer server.Close()

	resp, err := httpclient.SendRequestAndConvert(context.Background(), httpclient.New(), &httpclient.Request{
		Method:  "POST",
		URL:     server.URL + "/endpoint",
		Queries: []httpclient.Query{{QueryKey: "q", Value: "1"}},
		Headers: []httpclient.Header{{HeaderKey: "X-Test", Value: "yes"}},
		Body:    []byte(`{"in": true}`),
	})
	if err != nil {
		t.Fatal(err)
	}

	if resp.StatusCode != 200 {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if string(resp.Body) != `{"out": true}` {
		t.Errorf("body = %s", resp.Body)
	}
	if resp.Duration <= 0 {
		t.Error("duration not measured")
	}
	if resp.FinalURL != server.URL+"/endpoint?q=1" {
		t.Errorf("final url = %s", resp.FinalURL)
	}
}

func TestSendRequestAndConvertDecompressesExplicitEncoding(t *testing.T) {
	// zstd is never negotiated by the stdlib transport, so an explicit
	// Content-Encoding header always reaches the conversion layer.
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	compressed := enc.EncodeAll([]byte(`{"compressed": true}`), nil)
	_ = enc.Close()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "zstd")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(compressed)
	}))
	defer server.Close()

	resp, err := httpclient.SendRequestAndConvert(context.Background(), httpclient.New(), &httpclient.Request{
		Method: "GET",
		URL:    server.URL,
	})
	if err != nil {
		t.Fatal(err)
	}
	if string(resp.Body) != `{"compressed": true}` {
		t.Errorf("body = %s", resp.Body)
	}
}

func TestSendRequestAndConvertConvertsCharset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=iso-8859-1")
		_, _ = w.Write([]byte{0x63, 0x61, 0x66, 0xE9}) // "café" in latin-1
	}))
	defer server.Close()

	resp, err := httpclient.SendRequestAndConvert(context.Background(), httpclient.New(), &httpclient.Request{
		Method: "GET",
		URL:    server.URL,
	})
	if err != nil {
		t.Fatal(err)
	}
	if string(resp.Body) != "café" {
		t.Errorf("body = %q, want café", resp.Body)
	}
}

func TestSendRequestAndConvertTracksRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final", http.StatusFound)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("done"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	resp, err := httpclient.SendRequestAndConvert(context.Background(), httpclient.New(), &httpclient.Request{
		Method: "GET",
		URL:    server.URL + "/start",
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.FinalURL != server.URL+"/final" {
		t.Errorf("final url = %s", resp.FinalURL)
	}
}
