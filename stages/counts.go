package stages

import (
	"context"
	"sort"
	"strings"

	"github.com/teranos/corpipe/errors"
	"github.com/teranos/corpipe/pipeline"
)

func ngrams(ctx context.Context, tokens []string, args pipeline.Args) ([]string, error) {
	n := args.Int("n")
	if n < 1 {
		return nil, errors.Newf("n must be at least 1, got %d", n)
	}

	out := []string{}
	for i := 0; i+n <= len(tokens); i++ {
		out = append(out, strings.Join(tokens[i:i+n], args.String("sep")))
	}
	return out, nil
}

// TermCount is one row of a frequency table
type TermCount struct {
	Term  string `json:"term"`
	Count int    `json:"count"`
}

func frequency(ctx context.Context, terms []string, args pipeline.Args) ([]TermCount, error) {
	counts := make(map[string]int, len(terms))
	for _, term := range terms {
		counts[term]++
	}

	table := make([]TermCount, 0, len(counts))
	for term, count := range counts {
		table = append(table, TermCount{Term: term, Count: count})
	}
	sort.Slice(table, func(i, j int) bool {
		if table[i].Count != table[j].Count {
			return table[i].Count > table[j].Count
		}
		return table[i].Term < table[j].Term
	})

	if top := args.Int("top"); top > 0 && top < len(table) {
		table = table[:top]
	}
	return table, nil
}
