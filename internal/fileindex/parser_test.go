package fileindex

import (
	"testing"

	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuery_Empty(t *testing.T) {
	for _, text := range []string{"", "   "} {
		q, err := ParseQuery(text)
		require.NoError(t, err)
		assert.IsType(t, &query.MatchAllQuery{}, q)
	}
}

func TestParseQuery_QueryString(t *testing.T) {
	q, err := ParseQuery("fileName:report.pdf")
	require.NoError(t, err)
	assert.IsType(t, &query.QueryStringQuery{}, q)
}

func TestParseQuery_NumericRange(t *testing.T) {
	q, err := ParseQuery("size_numeric:[1000 TO 2000}")
	require.NoError(t, err)

	nr, ok := q.(*query.NumericRangeQuery)
	require.True(t, ok, "expected numeric range, got %T", q)
	assert.Equal(t, "size_numeric", nr.Field())
	require.NotNil(t, nr.Min)
	require.NotNil(t, nr.Max)
	assert.Equal(t, 1000.0, *nr.Min)
	assert.Equal(t, 2000.0, *nr.Max)
	assert.True(t, *nr.InclusiveMin)
	assert.False(t, *nr.InclusiveMax)
}

func TestParseQuery_OpenNumericBound(t *testing.T) {
	q, err := ParseQuery("level:[2 TO *]")
	require.NoError(t, err)

	nr, ok := q.(*query.NumericRangeQuery)
	require.True(t, ok)
	assert.Nil(t, nr.Max)
	require.NotNil(t, nr.Min)
	assert.Equal(t, 2.0, *nr.Min)
}

func TestParseQuery_TermRange(t *testing.T) {
	q, err := ParseQuery(`modified:["20240101000000.000" TO 20241231235959.999]`)
	require.NoError(t, err)

	tr, ok := q.(*query.TermRangeQuery)
	require.True(t, ok, "expected term range, got %T", q)
	assert.Equal(t, "modified", tr.Field())
	assert.Equal(t, "20240101000000.000", tr.Min)
	assert.Equal(t, "20241231235959.999", tr.Max)
}

func TestParseQuery_TermRangeFoldsCase(t *testing.T) {
	q, err := ParseQuery("fileName:{A TO M}")
	require.NoError(t, err)

	tr, ok := q.(*query.TermRangeQuery)
	require.True(t, ok)
	assert.Equal(t, "a", tr.Min)
	assert.Equal(t, "m", tr.Max)
	assert.False(t, *tr.InclusiveMin)
}

func TestParseQuery_RangeWithRemainder(t *testing.T) {
	q, err := ParseQuery("fileName:*.pdf size_numeric:[1000 TO 2000]")
	require.NoError(t, err)

	cq, ok := q.(*query.ConjunctionQuery)
	require.True(t, ok, "expected conjunction, got %T", q)
	assert.Len(t, cq.Conjuncts, 2)
}

func TestParseQuery_NegatedRange(t *testing.T) {
	q, err := ParseQuery("-size_numeric:[* TO 100]")
	require.NoError(t, err)
	assert.IsType(t, &query.BooleanQuery{}, q)
}

func TestParseQuery_Errors(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"bad numeric bound", "size_numeric:[small TO 10]"},
		{"comparison without number", "size_numeric:>abc"},
		{"dangling field", "fileName:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseQuery(tt.text)
			require.Error(t, err)
			assert.True(t, IsQueryError(err), "expected a query error, got %v", err)
		})
	}
}
