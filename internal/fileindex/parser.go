package fileindex

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/sha1n/mcp-fileindex-server/internal/domain"
)

// rangeClause matches field:[lo TO hi] with inclusive [ ] or exclusive { } bounds.
// Either bound may be *.
var rangeClause = regexp.MustCompile(`(^|\s)([+-]?)([A-Za-z0-9_.\-]+):([\[{])\s*("[^"]*"|[^\s\]}]+)\s+TO\s+("[^"]*"|[^\s\]}]+)\s*([\]}])`)

// ParseQuery turns query text into a structured query. Empty text matches all
// documents. Range clauses are lifted out and the remainder is handed to the
// query string syntax; all clauses must match.
func ParseQuery(text string) (query.Query, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return query.NewMatchAllQuery(), nil
	}

	var must, mustNot []query.Query
	var rest strings.Builder
	last := 0

	for _, m := range rangeClause.FindAllStringSubmatchIndex(text, -1) {
		// m[2]:m[3] is the leading separator, which stays in the remainder
		rest.WriteString(text[last:m[3]])
		rest.WriteByte(' ')
		last = m[1]

		sign := text[m[4]:m[5]]
		field := text[m[6]:m[7]]
		opening, lo, hi, closing := text[m[8]:m[9]], text[m[10]:m[11]], text[m[12]:m[13]], text[m[14]:m[15]]
		q, err := rangeQuery(field, lo, hi, opening, closing)
		if err != nil {
			return nil, &QueryError{Query: text, Err: err}
		}
		if sign == "-" {
			mustNot = append(mustNot, q)
		} else {
			must = append(must, q)
		}
	}
	rest.WriteString(text[last:])

	if remainder := strings.TrimSpace(rest.String()); remainder != "" {
		qs := query.NewQueryStringQuery(remainder)
		if _, err := qs.Parse(); err != nil {
			return nil, &QueryError{Query: text, Err: err}
		}
		must = append(must, qs)
	}

	if len(mustNot) > 0 {
		if len(must) == 0 {
			must = append(must, query.NewMatchAllQuery())
		}
		return query.NewBooleanQuery(must, nil, mustNot), nil
	}
	if len(must) == 1 {
		return must[0], nil
	}
	return query.NewConjunctionQuery(must), nil
}

func rangeQuery(field, lo, hi, opening, closing string) (query.Query, error) {
	minInclusive := opening == "["
	maxInclusive := closing == "]"
	lo = unquote(lo)
	hi = unquote(hi)

	if domain.NumericFields[field] {
		minValue, err := numericBound(lo)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field, err)
		}
		maxValue, err := numericBound(hi)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field, err)
		}
		q := query.NewNumericRangeInclusiveQuery(minValue, maxValue, &minInclusive, &maxInclusive)
		q.SetField(field)
		return q, nil
	}

	// Terms are indexed case-folded
	if lo == "*" {
		lo = ""
	}
	if hi == "*" {
		hi = ""
	}
	q := query.NewTermRangeInclusiveQuery(strings.ToLower(lo), strings.ToLower(hi), &minInclusive, &maxInclusive)
	q.SetField(field)
	return q, nil
}

func numericBound(s string) (*float64, error) {
	if s == "*" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid numeric bound %q", s)
	}
	return &v, nil
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
