package models

// Row is one transformed output row: an ordered mapping of column name to a
// scalar value (string, json.Number, bool or nil).
type Row struct {
	fields
}

// NewRow creates an empty row with room for capacity columns.
func NewRow(capacity int) *Row {
	return &Row{fields: newFields(capacity)}
}

// Clone returns a copy that can be modified independently.
func (r *Row) Clone() *Row {
	return &Row{fields: r.clone()}
}

// Value returns the value of column, or nil when absent.
func (r *Row) Value(column string) interface{} {
	return r.values[column]
}

// MarshalJSON encodes the row preserving column order.
func (r *Row) MarshalJSON() ([]byte, error) {
	return r.marshal()
}

// Page is one API response slice for a table.
type Page struct {
	// Records in response order.
	Records []*Record
	// Offset is the skip value the page was requested with.
	Offset int
	// Requested is the take value the page was requested with.
	Requested int
	// Received counts the entries the API returned, including null entries
	// that were dropped from Records.
	Received int
	// Total is the server-reported total, or -1 when absent.
	Total int
	// ParentID is set for pages of dependent tables.
	ParentID string
}

// Exhausted reports whether no further page should be requested.
func (p *Page) Exhausted() bool {
	return max(p.Received, len(p.Records)) < p.Requested
}
