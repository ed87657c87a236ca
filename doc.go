// Package extractor extracts tables from the Daktela v6 CRM REST API into
// CSV files with JSON manifests.
//
// A run resolves the configured tables against the built-in catalog,
// logs in once, and extracts independent tables in parallel. Every request
// goes through one rate-limited, retrying HTTP client. Dependent tables
// (e.g. ticket activities) are extracted after their parent, once per
// parent identifier. Records are flattened, cleaned and expanded into rows
// with a compound "id" column; the column set of each table only grows and
// is persisted with the table's watermark so incremental runs resume where
// the last successful run ended.
//
// # Quick Start
//
//	daktela-extractor tables
//	daktela-extractor list-fields tickets --config config.yaml
//	daktela-extractor run --config config.yaml --tables tickets,activities
//
// A minimal configuration:
//
//	connection:
//	  url: https://acme.daktela.com
//	  username: extractor
//	  password: ${DAKTELA_PASSWORD}
//	data_selection:
//	  date_from: "7 days ago"
//	  endpoints: [contacts, tickets, activities]
//	destination:
//	  output_dir: out/tables
//	  incremental: true
//	  compression: gzip
//
// # Key Packages
//
//	pkg/clients      - Rate-limited, retrying HTTP client
//	pkg/daktela      - Login, request building and response decoding
//	pkg/paginator    - Page iteration over top-level and dependent tables
//	pkg/transform    - Record to row transformation
//	pkg/schema       - Append-only column sets per table
//	pkg/state        - Watermarks, known columns and window resolution
//	pkg/sink         - CSV files, manifests and object storage upload
//	internal/scheduler - Run planning and concurrent table extraction
//	pkg/config       - YAML configuration and the table catalog
//	pkg/errors       - Structured error handling
//	pkg/logger       - Structured logging
//	pkg/metrics      - Prometheus metrics
package extractor
