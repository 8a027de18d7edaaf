package output

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// DefaultIssueTitle is used when the caller does not supply one.
const DefaultIssueTitle = "OData conformance report"

// IssuePublisher creates or updates a tracking issue holding the report.
type IssuePublisher interface {
	PublishReport(ctx context.Context, owner, repo, title, body string) (string, error)
}

// IssueSink publishes the Markdown report to a GitHub issue on Close.
type IssueSink struct {
	ctx       context.Context
	publisher IssuePublisher
	owner     string
	repo      string
	title     string
	logger    zerolog.Logger
	reportCollector

	// URL is the published issue, set after a successful Close.
	URL string
}

// NewIssueSink targets "OWNER/REPO".
func NewIssueSink(ctx context.Context, p IssuePublisher, target, title string, logger zerolog.Logger) (*IssueSink, error) {
	if p == nil {
		return nil, fmt.Errorf("issue publisher must not be nil")
	}
	owner, repo, ok := strings.Cut(strings.TrimSpace(target), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return nil, fmt.Errorf("issue target %q must be OWNER/REPO", target)
	}
	if title == "" {
		title = DefaultIssueTitle
	}
	return &IssueSink{
		ctx:       ctx,
		publisher: p,
		owner:     owner,
		repo:      repo,
		title:     title,
		logger:    logger,
	}, nil
}

func (s *IssueSink) Write(v any) error {
	s.add(v)
	return nil
}

func (s *IssueSink) Close() error {
	url, err := s.publisher.PublishReport(s.ctx, s.owner, s.repo, s.title, RenderReport(s.data()))
	if err != nil {
		return fmt.Errorf("publish report issue: %w", err)
	}
	s.URL = url
	s.logger.Info().Str("issue", url).Msg("report published")
	return nil
}
