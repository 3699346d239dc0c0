package engine

import (
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	bq "github.com/blevesearch/bleve/v2/search/query"

	"github.com/Aman-CERP/chatindex/internal/query"
)

// analyzed reports whether field goes through the message analyzer.
func analyzed(field string) bool {
	return field == query.FieldText || field == query.FieldFilename
}

// translate converts a compiled expression into a Bleve query. A nil
// expression matches everything.
func translate(e query.Expr) (bq.Query, error) {
	if e == nil {
		return bleve.NewMatchAllQuery(), nil
	}

	switch n := e.(type) {
	case *query.Terms:
		return translateTerms(n), nil

	case *query.Flag:
		q := bleve.NewBoolFieldQuery(n.Value)
		q.SetField(n.Field)
		return q, nil

	case *query.Group:
		children := make([]bq.Query, 0, len(n.Exprs))
		for _, child := range n.Exprs {
			q, err := translate(child)
			if err != nil {
				return nil, err
			}
			children = append(children, q)
		}
		if n.Op == query.Or {
			return bleve.NewDisjunctionQuery(children...), nil
		}
		return bleve.NewConjunctionQuery(children...), nil

	default:
		return nil, fmt.Errorf("unsupported query node %T", e)
	}
}

func translateTerms(t *query.Terms) bq.Query {
	values := make([]string, 0, len(t.Values))
	for _, v := range t.Values {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return bleve.NewMatchNoneQuery()
	}

	children := make([]bq.Query, 0, len(values))
	for _, v := range values {
		children = append(children, valueQuery(t.Field, v))
	}
	if len(children) == 1 {
		return children[0]
	}
	return bleve.NewDisjunctionQuery(children...)
}

func valueQuery(field, value string) bq.Query {
	if !analyzed(field) {
		q := bleve.NewTermQuery(value)
		q.SetField(field)
		return q
	}
	if strings.ContainsAny(value, " \t") {
		q := bleve.NewMatchPhraseQuery(value)
		q.SetField(field)
		q.Analyzer = MessageAnalyzerName
		return q
	}
	q := bleve.NewMatchQuery(value)
	q.SetField(field)
	q.Analyzer = MessageAnalyzerName
	return q
}

// dateRange matches ingestedAt within [start, end], both inclusive.
func dateRange(start, end float64) bq.Query {
	inclusive := true
	q := bleve.NewNumericRangeInclusiveQuery(&start, &end, &inclusive, &inclusive)
	q.SetField(fieldIngestedAt)
	return q
}

// halfOpenRange matches ingestedAt within [min, max).
func halfOpenRange(min, max float64) bq.Query {
	incMin, incMax := true, false
	q := bleve.NewNumericRangeInclusiveQuery(&min, &max, &incMin, &incMax)
	q.SetField(fieldIngestedAt)
	return q
}
