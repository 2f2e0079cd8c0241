// Package tcurl converts shell-style curl invocations into test
// specifications. Parsing is a pure function of the input string, so
// the same command always yields the same ParsedCurlRequest.
package tcurl

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"apicheck/pkg/model/mtestspec"

	json "github.com/goccy/go-json"
)

var (
	ErrEmptyCommand = errors.New("curl command cannot be empty")
	ErrNotCurl      = errors.New("invalid curl command")
	ErrNoURL        = errors.New("no URL found in curl command")
)

type RequestType string

const (
	RequestTypeJSON      RequestType = "json"
	RequestTypeForm      RequestType = "form"
	RequestTypeMultipart RequestType = "multipart"
	RequestTypeNone      RequestType = "none"
)

type ParsedCurlRequest struct {
	Method        string
	URL           string
	Headers       map[string]string
	Body          string
	QueryParams   map[string]string
	PathVariables map[string]string
	RequestType   RequestType
	RawCommand    string
}

// DefaultResponseTimeThresholdMS seeds the response-time assertion on
// specs built from curl commands.
const DefaultResponseTimeThresholdMS = 5000

// ParseCurlCommand parses a curl invocation. Fails when the command is
// empty, does not start with the curl token, or carries no URL.
// Malformed -H values (no colon) are logged and skipped, not fatal.
func ParseCurlCommand(command string, log *slog.Logger) (*ParsedCurlRequest, error) {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(command) == "" {
		return nil, ErrEmptyCommand
	}

	tokens := tokenize(normalize(command))
	if len(tokens) == 0 || !strings.EqualFold(tokens[0], "curl") {
		return nil, ErrNotCurl
	}

	method := ""
	rawURL := ""
	headers := make(map[string]string)
	var bodyParts []string
	formBody := ""

	next := func(i int) (string, bool) {
		if i+1 < len(tokens) {
			return tokens[i+1], true
		}
		return "", false
	}

	i := 1
	for i < len(tokens) {
		token := tokens[i]

		switch token {
		case "-X", "--request":
			if arg, ok := next(i); ok {
				method = strings.ToUpper(arg)
				i++
			}
		case "-H", "--header":
			if arg, ok := next(i); ok {
				i++
				key, value, found := strings.Cut(arg, ":")
				if !found {
					log.Warn("skipping malformed header in curl command", slog.String("header", arg))
					break
				}
				headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
			}
		case "-d", "--data", "--data-raw", "--data-binary":
			if arg, ok := next(i); ok {
				bodyParts = append(bodyParts, arg)
				i++
			}
		case "-F", "--form":
			if arg, ok := next(i); ok {
				i++
				if strings.Contains(arg, "=") && formBody == "" {
					formBody = arg
				}
			}
		case "-L", "--location":
			// Redirect-follow hint, nothing to record.
		default:
			// The first bare token is the URL. Scanning continues so
			// flags placed after the URL are still honored.
			if rawURL == "" && !strings.HasPrefix(token, "-") {
				rawURL = token
			}
		}
		i++
	}

	if rawURL == "" {
		return nil, ErrNoURL
	}

	// Multiple --data flags concatenate the way curl itself joins them.
	body := strings.Join(bodyParts, "&")
	if body == "" {
		body = formBody
	}

	// Any body flag upgrades an implicit GET to POST.
	if method == "" {
		method = "GET"
		if len(bodyParts) > 0 || formBody != "" {
			method = "POST"
		}
	}

	queryParams := map[string]string{}
	pathVariables := map[string]string{}
	if parsed, err := url.Parse(rawURL); err == nil {
		queryParams = firstValueQueryParams(parsed.RawQuery)
		pathVariables = extractPathVariables(parsed.Path)
	}

	return &ParsedCurlRequest{
		Method:        method,
		URL:           rawURL,
		Headers:       headers,
		Body:          body,
		QueryParams:   queryParams,
		PathVariables: pathVariables,
		RequestType:   determineRequestType(headers, body),
		RawCommand:    command,
	}, nil
}

// ToTestSpec converts a curl command into a runnable spec, seeding the
// default checks (successful status, content type, response time)
// before appending any caller-supplied assertions.
func ToTestSpec(command string, custom []mtestspec.Assertion, log *slog.Logger) (mtestspec.TestSpec, error) {
	parsed, err := ParseCurlCommand(command, log)
	if err != nil {
		return mtestspec.TestSpec{}, err
	}

	assertions := []mtestspec.Assertion{
		{Type: mtestspec.AssertionTypeStatusCode, Expected: 200},
	}
	if contentType, ok := lookupHeader(parsed.Headers, "content-type"); ok {
		assertions = append(assertions, mtestspec.Assertion{
			Type:     mtestspec.AssertionTypeHeader,
			Path:     "content-type",
			Matcher:  mtestspec.MatcherContains,
			Expected: contentType,
		})
	}
	assertions = append(assertions, mtestspec.Assertion{
		Type:     mtestspec.AssertionTypeResponseTime,
		Matcher:  mtestspec.MatcherLessThan,
		Expected: DefaultResponseTimeThresholdMS,
	})
	assertions = append(assertions, custom...)

	path := parsed.URL
	if u, uerr := url.Parse(parsed.URL); uerr == nil {
		path = u.Path
	}

	var body any
	if parsed.Body != "" {
		body = parsed.Body
	}

	return mtestspec.TestSpec{
		Name:          fmt.Sprintf("Test from curl: %s %s", parsed.Method, parsed.URL),
		Method:        parsed.Method,
		Path:          path,
		Headers:       parsed.Headers,
		QueryParams:   parsed.QueryParams,
		PathVariables: parsed.PathVariables,
		Body:          body,
		Assertions:    assertions,
	}, nil
}

// normalize strips line continuations. Everything else, including
// newlines inside quoted payloads, is left for the tokenizer so data
// content survives untouched.
func normalize(command string) string {
	command = strings.ReplaceAll(command, "\\\r\n", " ")
	command = strings.ReplaceAll(command, "\\\n", " ")
	return strings.TrimSpace(command)
}

type scanState int

const (
	stateNormal scanState = iota
	stateSingleQuote
	stateDoubleQuote
)

// tokenize splits on unquoted whitespace with an explicit three-state
// scanner. Quote characters delimit but are not kept; a quote of the
// other kind inside an active quote stays literal, so nested quotes
// survive verbatim. Outside quotes a backslash escapes the next
// character.
func tokenize(command string) []string {
	var tokens []string
	var current strings.Builder
	inToken := false
	state := stateNormal

	flush := func() {
		if inToken {
			tokens = append(tokens, current.String())
			current.Reset()
			inToken = false
		}
	}

	runes := []rune(command)
	for i := 0; i < len(runes); i++ {
		ch := runes[i]

		switch state {
		case stateNormal:
			switch {
			case ch == '\'':
				state = stateSingleQuote
				inToken = true
			case ch == '"':
				state = stateDoubleQuote
				inToken = true
			case ch == '\\' && i+1 < len(runes):
				current.WriteRune(runes[i+1])
				inToken = true
				i++
			case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
				flush()
			default:
				current.WriteRune(ch)
				inToken = true
			}

		case stateSingleQuote:
			if ch == '\'' {
				state = stateNormal
			} else {
				current.WriteRune(ch)
			}

		case stateDoubleQuote:
			if ch == '"' {
				state = stateNormal
			} else {
				current.WriteRune(ch)
			}
		}
	}
	flush()
	return tokens
}

// firstValueQueryParams flattens a query string; the first value wins
// for repeated keys.
func firstValueQueryParams(rawQuery string) map[string]string {
	params := make(map[string]string)
	if rawQuery == "" {
		return params
	}
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		decodedKey, err := url.QueryUnescape(key)
		if err != nil {
			decodedKey = key
		}
		decodedValue, err := url.QueryUnescape(value)
		if err != nil {
			decodedValue = value
		}
		if _, exists := params[decodedKey]; !exists {
			params[decodedKey] = decodedValue
		}
	}
	return params
}

// extractPathVariables records {name} placeholders and flags purely
// numeric segments as id_<index> hints. The numeric hints are a
// heuristic for spotting resource identifiers, not real variables.
func extractPathVariables(path string) map[string]string {
	vars := make(map[string]string)
	for i, part := range strings.Split(path, "/") {
		switch {
		case strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") && len(part) > 2:
			name := part[1 : len(part)-1]
			vars[name] = fmt.Sprintf("{path_var_%d}", i)
		case part != "" && isDigits(part):
			vars[fmt.Sprintf("id_%d", i)] = part
		}
	}
	return vars
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

func determineRequestType(headers map[string]string, body string) RequestType {
	contentType, _ := lookupHeader(headers, "content-type")
	contentType = strings.ToLower(contentType)

	switch {
	case strings.Contains(contentType, "application/json"):
		return RequestTypeJSON
	case strings.Contains(contentType, "application/x-www-form-urlencoded"):
		return RequestTypeForm
	case strings.Contains(contentType, "multipart/form-data"):
		return RequestTypeMultipart
	case body != "":
		if json.Valid([]byte(body)) {
			return RequestTypeJSON
		}
		return RequestTypeForm
	default:
		return RequestTypeNone
	}
}

func lookupHeader(headers map[string]string, name string) (string, bool) {
	for key, value := range headers {
		if strings.EqualFold(key, name) {
			return value, true
		}
	}
	return "", false
}
