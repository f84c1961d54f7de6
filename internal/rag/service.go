package rag

import (
	"context"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/retrieval"
)

// Searcher runs a scoped semantic search. retrieval.Retriever satisfies it.
type Searcher interface {
	Search(ctx context.Context, q retrieval.Query) (retrieval.Response, error)
}

// Service combines search and packing into one call.
type Service struct {
	searcher Searcher
	builder  *Builder
}

func NewService(s Searcher, b *Builder) *Service {
	if b == nil {
		b = NewBuilder(DefaultMaxChars)
	}
	return &Service{searcher: s, builder: b}
}

// Context searches for q and packs the results. A negative maxChars uses
// the builder's budget; zero yields an empty context without searching.
func (s *Service) Context(ctx context.Context, q retrieval.Query, maxChars int) (Packed, retrieval.Response, error) {
	if maxChars < 0 {
		maxChars = s.builder.MaxChars
	}
	if maxChars == 0 {
		return Packed{}, retrieval.Response{}, nil
	}
	resp, err := s.searcher.Search(ctx, q)
	if err != nil {
		return Packed{}, retrieval.Response{}, err
	}
	return Pack(resp.Results, maxChars), resp, nil
}
