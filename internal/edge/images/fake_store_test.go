package images

import (
	"context"
	"sort"
	"sync"

	"github.com/adminx/perfgate/pkg/types"
)

type fakeStore struct {
	mu          sync.Mutex
	attachments map[int64]types.Attachment
	savings     map[int64]int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		attachments: make(map[int64]types.Attachment),
		savings:     make(map[int64]int64),
	}
}

func (s *fakeStore) add(att types.Attachment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachments[att.ID] = att
}

func (s *fakeStore) unoptimizedIDs() []int64 {
	var ids []int64
	for id, att := range s.attachments {
		if _, done := s.savings[id]; done || !Supported(att.MimeType) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *fakeStore) UnoptimizedAttachments(_ context.Context, limit int) ([]types.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.unoptimizedIDs()
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]types.Attachment, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.attachments[id])
	}
	return out, nil
}

func (s *fakeStore) CountUnoptimized(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.unoptimizedIDs())), nil
}

func (s *fakeStore) Attachment(_ context.Context, id int64) (types.Attachment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	att, ok := s.attachments[id]
	return att, ok, nil
}

func (s *fakeStore) MarkOptimized(_ context.Context, id int64, savings int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.savings[id] = savings
	return nil
}

func (s *fakeStore) ImageCounts(_ context.Context) (int64, int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total, optimized, savings int64
	for id, att := range s.attachments {
		if !Supported(att.MimeType) {
			continue
		}
		total++
		if v, ok := s.savings[id]; ok {
			optimized++
			savings += v
		}
	}
	return total, optimized, savings, nil
}
