package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/tracker"
	apperrors "github.com/Adithya-Monish-Kumar-K/bani-align/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/rpc"
)

// RegisterRPC serves the tracker collaborators over s. ready reports
// whether the service should answer health checks with SERVING; nil means
// always. Pass a searcher from Handler.Bounded to share the handler's query
// slots.
func RegisterRPC(s *rpc.Server, searcher tracker.Searcher, ready func(ctx context.Context) error) {
	s.Register(proto.MethodSearchGlobal, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var req proto.SearchGlobalRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
		}
		m, err := searcher.SearchGlobal(ctx, req.Query)
		if err != nil {
			return nil, err
		}
		return &proto.SearchResponse{Found: m != nil, Match: m}, nil
	})

	s.Register(proto.MethodSearchSection, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var req proto.SearchSectionRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
		}
		if req.SectionID == "" {
			return nil, fmt.Errorf("%w: section_id is required", apperrors.ErrInvalidInput)
		}
		m, err := searcher.SearchSection(ctx, req.SectionID, req.Query)
		if err != nil {
			return nil, err
		}
		return &proto.SearchResponse{Found: m != nil, Match: m}, nil
	})

	s.Register(proto.MethodHealth, func(ctx context.Context, _ json.RawMessage) (any, error) {
		if ready != nil {
			if err := ready(ctx); err != nil {
				return &proto.HealthCheckResponse{Status: "NOT_SERVING"}, nil
			}
		}
		return &proto.HealthCheckResponse{Status: "SERVING"}, nil
	})
}

// Bounded wraps s so each search holds one of the handler's query slots.
func (h *Handler) Bounded(s tracker.Searcher) tracker.Searcher {
	return &boundedSearcher{next: s, h: h}
}

type boundedSearcher struct {
	next tracker.Searcher
	h    *Handler
}

func (b *boundedSearcher) SearchGlobal(ctx context.Context, query string) (*proto.Match, error) {
	if err := b.h.acquire(ctx); err != nil {
		return nil, err
	}
	defer b.h.sem.Release(1)
	return b.next.SearchGlobal(ctx, query)
}

func (b *boundedSearcher) SearchSection(ctx context.Context, sectionID, query string) (*proto.Match, error) {
	if err := b.h.acquire(ctx); err != nil {
		return nil, err
	}
	defer b.h.sem.Release(1)
	return b.next.SearchSection(ctx, sectionID, query)
}
