package remote

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildStoreFromDSN selects a remote store implementation from a DSN.
// Supported schemes: postgres, http(s), memory.
func BuildStoreFromDSN(dsn, token string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(parsed.Scheme)) {
	case "postgres", "postgresql":
		return NewPostgres(dsn)
	case "http", "https":
		return NewHTTPStore(dsn, token, nil), nil
	case "memory", "mem", "inmem":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported remote store scheme: %s", parsed.Scheme)
	}
}
