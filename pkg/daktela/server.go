package daktela

import (
	"net/url"
	"strings"
)

// ServerName returns the instance name used to prefix output: the first
// label of the URL host ("https://acme.daktela.com" -> "acme").
func ServerName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := u.Hostname()
	if i := strings.IndexByte(host, '.'); i > 0 {
		return host[:i]
	}
	return host
}

// NormalizeParentID turns an output value of a parent key column back into
// the identifier the API expects: the "{server}_" prefix is removed, then a
// table prefix such as "tickets_" or "ticket_" if present.
func NormalizeParentID(value, server, parentTable string) string {
	id := value
	if server != "" {
		id = strings.TrimPrefix(id, server+"_")
	}

	for _, prefix := range tablePrefixes(parentTable) {
		if strings.HasPrefix(id, prefix) {
			return id[len(prefix):]
		}
	}
	return id
}

func tablePrefixes(table string) []string {
	prefixes := []string{table + "_"}
	switch {
	case table == "activities":
		prefixes = append(prefixes, "activity_")
	case strings.HasSuffix(table, "ies"):
		prefixes = append(prefixes, strings.TrimSuffix(table, "ies")+"y_")
	case strings.HasSuffix(table, "s"):
		prefixes = append(prefixes, strings.TrimSuffix(table, "s")+"_")
	}
	return prefixes
}
