// Package sonar looks a query up across the pre-built entity indices and
// returns matching domains. It is a pure read layer; a down index never
// fails a scan, it is just recorded as unscanned.
package sonar

import (
	"regexp"
	"strings"
)

// QueryType is the classified shape of an operator query.
type QueryType string

const (
	QueryEmail   QueryType = "email"
	QueryPhone   QueryType = "phone"
	QueryDomain  QueryType = "domain"
	QueryURL     QueryType = "url"
	QueryPerson  QueryType = "person"
	QueryCompany QueryType = "company"
	QueryGeneric QueryType = "generic"
)

var (
	emailPattern  = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	domainPattern = regexp.MustCompile(`^[a-z0-9\-]+(\.[a-z0-9\-]+)+$`)
	personPattern = regexp.MustCompile(`^[A-Z][a-z]+(?:\s+[A-Z][a-z'\-]+){1,3}$`)
	digitPattern  = regexp.MustCompile(`\d`)
)

// companySuffixes are the legal-form markers that flag a company name.
var companySuffixes = []string{
	" ltd", " limited", " llc", " inc", " corp", " corporation", " plc",
	" gmbh", " ag", " sa", " srl", " bv", " nv", " oy", " ab", " as",
	" pty", " holdings", " group",
}

// Classify determines the query shape. Order matters: a URL is also
// domain-like, an email is also person-adjacent.
func Classify(query string) QueryType {
	q := strings.TrimSpace(query)
	if q == "" {
		return QueryGeneric
	}

	lower := strings.ToLower(q)
	switch {
	case strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://"):
		return QueryURL
	case emailPattern.MatchString(q):
		return QueryEmail
	case isPhone(q):
		return QueryPhone
	case domainPattern.MatchString(lower) && !strings.Contains(q, " "):
		return QueryDomain
	case hasCompanySuffix(lower):
		return QueryCompany
	case personPattern.MatchString(q):
		return QueryPerson
	}
	return QueryGeneric
}

// isPhone accepts international-ish numbers: seven or more digits with only
// phone punctuation around them.
func isPhone(q string) bool {
	digits := len(digitPattern.FindAllString(q, -1))
	if digits < 7 {
		return false
	}
	for _, r := range q {
		switch {
		case r >= '0' && r <= '9':
		case r == '+' || r == '-' || r == '(' || r == ')' || r == '.' || r == ' ':
		default:
			return false
		}
	}
	return true
}

func hasCompanySuffix(lower string) bool {
	for _, suffix := range companySuffixes {
		if strings.HasSuffix(lower, suffix) || strings.Contains(lower, suffix+" ") {
			return true
		}
	}
	return false
}
