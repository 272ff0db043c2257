package fileindex

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/numeric"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/collector"
	"github.com/blevesearch/bleve/v2/search/query"
	index "github.com/blevesearch/bleve_index_api"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/sha1n/mcp-fileindex-server/internal/domain"
)

// QueryResult is one page of matching keys.
type QueryResult struct {
	// Keys holds the canonical keys in the requested window, in result order.
	Keys []string

	// Total is the number of matching documents, regardless of the window.
	Total int
}

type queryCacheKey struct {
	generation uint64
	text       string
	sort       string
	start      int
	size       int
}

func newQueryCacheKey(generation uint64, text string, sortFields []string, start, size int) queryCacheKey {
	quoted := make([]string, len(sortFields))
	for i, f := range sortFields {
		quoted[i] = strconv.Quote(f)
	}
	return queryCacheKey{
		generation: generation,
		text:       strings.TrimSpace(text),
		sort:       strings.Join(quoted, ","),
		start:      start,
		size:       size,
	}
}

// String is the singleflight key; quoting keeps text and sort fields from running into each other.
func (k queryCacheKey) String() string {
	return fmt.Sprintf("%d|%d|%d|%s|%q", k.generation, k.start, k.size, k.sort, k.text)
}

type searchFunc func(ctx context.Context, r index.IndexReader, parsed query.Query, order search.SortOrder, start, pageSize int) (QueryResult, error)

// QueryExecutor runs queries against the current snapshot. It never touches the writer.
type QueryExecutor struct {
	holder  *SearcherHolder
	mapping mapping.IndexMapping
	cache   *lru.Cache[queryCacheKey, QueryResult]
	group   singleflight.Group
	logger  *slog.Logger

	// run executes a search; replaced in tests.
	run searchFunc
}

// NewQueryExecutor creates an executor. A cacheSize of 0 disables result caching.
func NewQueryExecutor(holder *SearcherHolder, m mapping.IndexMapping, cacheSize int, logger *slog.Logger) (*QueryExecutor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	q := &QueryExecutor{holder: holder, mapping: m, logger: logger}
	q.run = q.execute
	if cacheSize > 0 {
		cache, err := lru.New[queryCacheKey, QueryResult](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create query cache: %w", err)
		}
		q.cache = cache
	}
	return q, nil
}

// Query returns the window [start, start+pageSize) of keys matching text,
// ordered by sortFields, plus the total number of matches.
func (q *QueryExecutor) Query(ctx context.Context, text string, sortFields []string, start, pageSize int) (*QueryResult, error) {
	if start < 0 || pageSize < 0 {
		Queries.WithLabelValues(resultRejected).Inc()
		return nil, ErrInvalidPage
	}

	parsed, err := ParseQuery(text)
	if err != nil {
		Queries.WithLabelValues(resultRejected).Inc()
		return nil, err
	}
	order, err := parseSort(sortFields)
	if err != nil {
		Queries.WithLabelValues(resultRejected).Inc()
		return nil, &QueryError{Query: text, Err: err}
	}

	handle, err := q.holder.Acquire()
	if err != nil {
		return nil, err
	}
	defer handle.Release()

	key := newQueryCacheKey(handle.Generation(), text, sortFields, start, pageSize)
	if q.cache != nil {
		if cached, ok := q.cache.Get(key); ok {
			Queries.WithLabelValues(resultCached).Inc()
			return cloneResult(cached), nil
		}
	}

	v, err, shared := q.group.Do(key.String(), func() (interface{}, error) {
		return q.run(ctx, handle.Reader(), parsed, order, start, pageSize)
	})
	if err != nil && shared && isContextError(err) && ctx.Err() == nil {
		// the caller that ran the search was canceled, this one was not
		v, err = q.run(ctx, handle.Reader(), parsed, order, start, pageSize)
	}
	if err != nil {
		if IsQueryError(err) {
			Queries.WithLabelValues(resultRejected).Inc()
		} else {
			Queries.WithLabelValues(resultError).Inc()
		}
		return nil, err
	}

	result := v.(QueryResult)
	if q.cache != nil {
		q.cache.Add(key, result)
	}
	Queries.WithLabelValues(resultOK).Inc()
	return cloneResult(result), nil
}

func (q *QueryExecutor) execute(ctx context.Context, r index.IndexReader, parsed query.Query, order search.SortOrder, start, pageSize int) (QueryResult, error) {
	searcher, err := parsed.Searcher(ctx, r, q.mapping, search.SearcherOptions{})
	if err != nil {
		return QueryResult{}, &QueryError{Query: fmt.Sprint(parsed), Err: err}
	}
	defer func() {
		if cerr := searcher.Close(); cerr != nil {
			q.logger.Warn("Failed to close searcher", "error", cerr)
		}
	}()

	// the collector sizes its buffers from start+pageSize+1
	if start >= math.MaxInt-1 {
		start, pageSize = 0, 0
	} else if pageSize > math.MaxInt-1-start {
		pageSize = math.MaxInt - 1 - start
	}
	coll := collector.NewTopNCollector(pageSize, start, order)
	if err := coll.Collect(ctx, searcher, r); err != nil {
		return QueryResult{}, fmt.Errorf("search failed: %w", err)
	}

	hits := coll.Results()
	keys := make([]string, 0, len(hits))
	for _, hit := range hits {
		keys = append(keys, hit.ID)
	}
	return QueryResult{Keys: keys, Total: int(coll.Total())}, nil
}

// parseSort converts "field" / "-field" names into a sort order.
// Numeric fields compare numerically, everything else as text.
// The document ID is appended as a final tie-breaker.
func parseSort(fields []string) (search.SortOrder, error) {
	if len(fields) == 0 {
		return search.SortOrder{&search.SortScore{Desc: true}, &search.SortDocID{}}, nil
	}

	order := make(search.SortOrder, 0, len(fields)+1)
	hasID := false
	for _, f := range fields {
		f = strings.TrimSpace(f)
		desc := strings.HasPrefix(f, "-")
		name := strings.TrimPrefix(strings.TrimPrefix(f, "-"), "+")
		if name == "" {
			return nil, fmt.Errorf("empty sort field in %q", fields)
		}

		switch name {
		case "_score":
			order = append(order, &search.SortScore{Desc: desc})
		case "_id":
			hasID = true
			order = append(order, &search.SortDocID{Desc: desc})
		default:
			typ := search.SortFieldAsString
			if domain.NumericFields[name] {
				typ = search.SortFieldAsNumber
			}
			order = append(order, &search.SortField{
				Field:   name,
				Desc:    desc,
				Type:    typ,
				Missing: search.SortFieldMissingLast,
			})
		}
	}
	if !hasID {
		order = append(order, &search.SortDocID{})
	}
	return order, nil
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func cloneResult(r QueryResult) *QueryResult {
	return &QueryResult{Keys: slices.Clone(r.Keys), Total: r.Total}
}

// GetTermsFor yields the distinct live values of field in ascending order,
// starting after from (an empty from starts at the first term). Numeric fields
// yield their values in numeric order.
//
// The snapshot and term cursor are held only while the sequence is being
// ranged over and are released when iteration ends, including on break.
func (q *QueryExecutor) GetTermsFor(ctx context.Context, field, from string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		handle, err := q.holder.Acquire()
		if err != nil {
			yield("", err)
			return
		}
		defer handle.Release()

		r := handle.Reader()
		dict, err := r.FieldDict(field)
		if err != nil {
			yield("", fmt.Errorf("failed to open terms of %s: %w", field, err))
			return
		}
		defer func() {
			if cerr := dict.Close(); cerr != nil {
				q.logger.Warn("Failed to close term dictionary", "field", field, "error", cerr)
			}
		}()

		decode, after, err := termCodec(field, from)
		if err != nil {
			yield("", err)
			return
		}

		for {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}

			entry, err := dict.Next()
			if err != nil {
				yield("", fmt.Errorf("failed to read terms of %s: %w", field, err))
				return
			}
			if entry == nil {
				return
			}

			value, ok := decode(entry.Term)
			if !ok || !after(value) {
				continue
			}

			live, err := isLiveTerm(ctx, r, field, entry.Term)
			if err != nil {
				yield("", err)
				return
			}
			if !live {
				continue
			}

			if !yield(value, nil) {
				return
			}
		}
	}
}

// termCodec returns how raw dictionary terms of field are decoded and compared against from.
func termCodec(field, from string) (decode func(string) (string, bool), after func(string) bool, err error) {
	if !domain.NumericFields[field] {
		decode = func(term string) (string, bool) { return term, true }
		after = func(v string) bool { return v > from }
		return decode, after, nil
	}

	// Numeric fields index several precisions per value; only full precision terms are values
	decode = func(term string) (string, bool) {
		pc := numeric.PrefixCoded(term)
		shift, err := pc.Shift()
		if err != nil || shift != 0 {
			return "", false
		}
		i, err := pc.Int64()
		if err != nil {
			return "", false
		}
		return strconv.FormatFloat(numeric.Int64ToFloat64(i), 'f', -1, 64), true
	}
	if from == "" {
		after = func(string) bool { return true }
		return decode, after, nil
	}
	bound, perr := strconv.ParseFloat(from, 64)
	if perr != nil {
		return nil, nil, &QueryError{Query: from, Err: fmt.Errorf("field %s is numeric", field)}
	}
	after = func(v string) bool {
		f, _ := strconv.ParseFloat(v, 64)
		return f > bound
	}
	return decode, after, nil
}

// isLiveTerm reports whether any live document in the snapshot still holds term.
// Term dictionaries keep entries of deleted documents until segments are merged.
func isLiveTerm(ctx context.Context, r index.IndexReader, field, term string) (bool, error) {
	tfr, err := r.TermFieldReader(ctx, []byte(term), field, false, false, false)
	if err != nil {
		return false, fmt.Errorf("failed to read postings of %s:%s: %w", field, term, err)
	}
	n := tfr.Count()
	if err := tfr.Close(); err != nil {
		return false, fmt.Errorf("failed to close postings of %s:%s: %w", field, term, err)
	}
	return n > 0, nil
}
