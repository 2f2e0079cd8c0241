//nolint:revive // exported
package mauth

import "fmt"

// Kind is the closed set of authentication strategies.
type Kind int8

const (
	KindNone Kind = iota
	KindBearer
	KindAPIKey
	KindBasic
	KindOAuth2
)

var kindNames = map[Kind]string{
	KindNone:   "none",
	KindBearer: "bearer",
	KindAPIKey: "api_key",
	KindBasic:  "basic",
	KindOAuth2: "oauth2",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("auth_kind(%d)", int8(k))
}

func ParseKind(tag string) (Kind, error) {
	for k, name := range kindNames {
		if name == tag {
			return k, nil
		}
	}
	return KindNone, fmt.Errorf("unknown auth type: %q", tag)
}

// Config is a tagged union over the strategy variants. Only the fields
// of the selected Kind are read; the engine borrows it read-only and
// never writes an acquired oauth2 token back (callers decide whether
// to cache via Token).
type Config struct {
	Kind Kind

	// bearer, and oauth2 when a token is already cached
	Token string

	// api_key
	KeyName  string
	KeyValue string

	// basic
	Username string
	Password string

	// oauth2 client credentials
	ClientID     string
	ClientSecret string
	TokenURL     string
	Extra        map[string]string
}
