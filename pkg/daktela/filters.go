package daktela

import (
	"net/url"
	"strconv"
	"time"

	"github.com/ajitpratap0/daktela-extractor/pkg/json"
	"github.com/ajitpratap0/daktela-extractor/pkg/models"
)

// TimeLayout is the timestamp format the API expects in filters.
const TimeLayout = "2006-01-02 15:04:05"

// FormatTime renders t in the API filter format, in UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

type compoundFilter struct {
	Logic   string          `json:"logic"`
	Filters []models.Filter `json:"filters"`
}

// BuildFilters returns the predicates for one table request: the window
// bounds on the table's date field (only for date-filtered, independent
// tables) followed by the table's static filters.
func BuildFilters(spec *models.TableSpec, window models.Window) []models.Filter {
	var filters []models.Filter
	if spec.DateFilter && !spec.IsDependent() {
		if window.HasFrom() {
			filters = append(filters, models.Filter{Field: spec.DateField(), Operator: "gte", Value: FormatTime(window.From)})
		}
		if !window.OpenEnded && !window.To.IsZero() {
			filters = append(filters, models.Filter{Field: spec.DateField(), Operator: "lte", Value: FormatTime(window.To)})
		}
	}
	return append(filters, spec.Filters...)
}

// EncodeFilters adds filters to query. A single predicate uses the flat
// filter[field]/filter[operator]/filter[value] form; several are combined
// into one JSON document with "and" logic.
func EncodeFilters(query url.Values, filters []models.Filter) error {
	switch len(filters) {
	case 0:
		return nil
	case 1:
		query.Set("filter[field]", filters[0].Field)
		query.Set("filter[operator]", filters[0].Operator)
		query.Set("filter[value]", filters[0].Value)
		return nil
	default:
		encoded, err := json.Marshal(compoundFilter{Logic: "and", Filters: filters})
		if err != nil {
			return err
		}
		query.Set("filter", string(encoded))
		return nil
	}
}

// EncodeFields adds the fields[i] selectors.
func EncodeFields(query url.Values, fields []string) {
	for i, f := range fields {
		query.Set("fields["+strconv.Itoa(i)+"]", f)
	}
}
