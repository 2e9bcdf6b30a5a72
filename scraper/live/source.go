package live

import (
	"context"
	"sync"

	"guide-aggregator/models"
	"guide-aggregator/utils"
)

// Source reads guides from their published pages. The page parsed for the
// token check is kept until the guide is extracted.
type Source struct {
	fetcher Fetcher
	logger  *utils.Logger

	mu    sync.Mutex
	pages map[string]*Page
}

// NewSource creates a Source backed by fetcher.
func NewSource(fetcher Fetcher, logger *utils.Logger) *Source {
	return &Source{fetcher: fetcher, logger: logger.With("live"), pages: make(map[string]*Page)}
}

func (s *Source) load(ctx context.Context, guide models.Guide) (*Page, error) {
	body, err := s.fetcher.Fetch(ctx, guide.SourceURL)
	if err != nil {
		return nil, err
	}
	return ParsePage(body, guide, s.logger)
}

// Token returns the page's modification token.
func (s *Source) Token(ctx context.Context, guide models.Guide) (string, error) {
	page, err := s.load(ctx, guide)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.pages[guide.SourceURL] = page
	s.mu.Unlock()
	return page.Token, nil
}

// Extract returns the guide's records.
func (s *Source) Extract(ctx context.Context, guide models.Guide) ([]models.ListingRecord, error) {
	s.mu.Lock()
	page, ok := s.pages[guide.SourceURL]
	delete(s.pages, guide.SourceURL)
	s.mu.Unlock()

	if !ok {
		var err error
		if page, err = s.load(ctx, guide); err != nil {
			return nil, err
		}
	}
	s.logger.Debug("%s: %d places", guide.Name, len(page.Records))
	return page.Records, nil
}

// Forget drops a cached page for a guide that will not be extracted.
func (s *Source) Forget(guide models.Guide) {
	s.mu.Lock()
	delete(s.pages, guide.SourceURL)
	s.mu.Unlock()
}
