package db

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// OpenDocumentStore picks a DocumentStore implementation from the DSN scheme:
//
//	memory://            in-process map
//	file:///var/lib/ps   one JSON file per document (a bare path works too)
//	postgres://...       PostgreSQL via lib/pq
func OpenDocumentStore(dsn string) (DocumentStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("store dsn is required")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid store dsn: %w", err)
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	switch scheme {
	case "", "file":
		path, err := dsnPath(parsed, dsn)
		if err != nil {
			return nil, err
		}
		return NewFileDocumentStore(path)
	case "memory", "mem", "inmem":
		return NewMemoryDocumentStore(), nil
	case "postgres", "postgresql":
		return NewPostgresDocumentStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported store scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed.Scheme == "" {
		return filepath.Clean(raw), nil
	}
	path := parsed.Path
	if parsed.Host != "" && parsed.Host != "localhost" {
		// file://data is read as a relative directory named "data"
		path = parsed.Host + path
	}
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("file store dsn %q has no path", raw)
	}
	return filepath.Clean(path), nil
}
