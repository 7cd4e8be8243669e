package domain

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CursorOrdering compares two cursor values under the connector's declared
// ordering. It returns a negative number when a < b, zero when equal, and a
// positive number when a > b.
type CursorOrdering func(a, b string) int

// DefaultOrdering compares cursors as RFC3339 timestamps when both parse,
// as integers when both parse, and lexicographically otherwise. It covers the
// two common cursor shapes: timestamps and monotonically increasing ids.
func DefaultOrdering(a, b string) int {
	if ta, errA := time.Parse(time.RFC3339, a); errA == nil {
		if tb, errB := time.Parse(time.RFC3339, b); errB == nil {
			return ta.Compare(tb)
		}
	}
	if na, errA := strconv.ParseInt(a, 10, 64); errA == nil {
		if nb, errB := strconv.ParseInt(b, 10, 64); errB == nil {
			switch {
			case na < nb:
				return -1
			case na > nb:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(a, b)
}

// Connector is the narrow interface the engine uses to talk to a source. The
// actual wire protocol lives behind it.
type Connector interface {
	// FetchBatch returns the next batch for a stream. An empty cursor means
	// fetch from the beginning (full refresh or first incremental run).
	FetchBatch(ctx context.Context, stream string, cursor string) (*Batch, error)

	// DiscoverStreams lists the streams the source exposes.
	DiscoverStreams(ctx context.Context) ([]string, error)

	// Ordering returns the comparator for this connector's cursor values.
	Ordering() CursorOrdering
}

// QualityEngine scores a batch and reports detected sensitive fields. The
// statistical algorithms and PII models behind it are external.
type QualityEngine interface {
	Assess(ctx context.Context, batch *Batch) (*QualityResult, error)
}

// LayerWriter persists pipeline output. WriteRaw stores the batch verbatim;
// WriteValidated stores it unchanged in content but tagged with its quality
// result.
type LayerWriter interface {
	WriteRaw(ctx context.Context, jobID string, batch *Batch) error
	WriteValidated(ctx context.Context, jobID string, batch *Batch, result *QualityResult) error
}

// Aggregator produces business-layer output from a validated batch and
// returns the identifiers of the datasets it wrote.
type Aggregator interface {
	Aggregate(ctx context.Context, jobID string, batch *Batch) ([]string, error)
}

// ConnectorKind identifies one of the known connector families.
type ConnectorKind string

const (
	ConnectorPostgres ConnectorKind = "postgres"
	ConnectorMySQL    ConnectorKind = "mysql"
	ConnectorHTTP     ConnectorKind = "http_api"
)

// PostgresConfig configures a Postgres source.
type PostgresConfig struct {
	Host     string `json:"host" toml:"host"`
	Port     int    `json:"port" toml:"port"`
	Database string `json:"database" toml:"database"`
	User     string `json:"user" toml:"user"`
	SSLMode  string `json:"ssl_mode,omitempty" toml:"ssl_mode"`
}

// MySQLConfig configures a MySQL source.
type MySQLConfig struct {
	Host     string `json:"host" toml:"host"`
	Port     int    `json:"port" toml:"port"`
	Database string `json:"database" toml:"database"`
	User     string `json:"user" toml:"user"`
}

// HTTPConfig configures an HTTP API source.
type HTTPConfig struct {
	BaseURL     string `json:"base_url" toml:"base_url"`
	AuthHeader  string `json:"auth_header,omitempty" toml:"auth_header"`
	PageSize    int    `json:"page_size,omitempty" toml:"page_size"`
	CursorParam string `json:"cursor_param,omitempty" toml:"cursor_param"`
}

// SourceConfig is a tagged union over the known connector kinds. Exactly the
// config matching Kind must be set; unknown kinds are rejected at
// registration time, never at execution time.
type SourceConfig struct {
	Kind     ConnectorKind   `json:"kind" toml:"kind"`
	Postgres *PostgresConfig `json:"postgres,omitempty" toml:"postgres"`
	MySQL    *MySQLConfig    `json:"mysql,omitempty" toml:"mysql"`
	HTTP     *HTTPConfig     `json:"http_api,omitempty" toml:"http_api"`
}

// Validate checks that the config carries exactly the record its kind requires.
func (c SourceConfig) Validate() error {
	switch c.Kind {
	case ConnectorPostgres:
		if c.Postgres == nil {
			return fmt.Errorf("postgres source requires a postgres config")
		}
		if c.Postgres.Host == "" || c.Postgres.Database == "" {
			return fmt.Errorf("postgres source requires host and database")
		}
	case ConnectorMySQL:
		if c.MySQL == nil {
			return fmt.Errorf("mysql source requires a mysql config")
		}
		if c.MySQL.Host == "" || c.MySQL.Database == "" {
			return fmt.Errorf("mysql source requires host and database")
		}
	case ConnectorHTTP:
		if c.HTTP == nil {
			return fmt.Errorf("http_api source requires an http_api config")
		}
		if c.HTTP.BaseURL == "" {
			return fmt.Errorf("http_api source requires base_url")
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownConnectorKind, string(c.Kind))
	}
	return nil
}

// Source is a registered data source: its identity, validated config, and the
// connector instance that reaches it.
type Source struct {
	ID        string
	Name      string
	Config    SourceConfig
	Connector Connector
}
