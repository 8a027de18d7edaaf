package github

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v81/github"
)

// ReportLabel marks issues owned by odatacheck so later runs update them
// instead of opening duplicates.
const ReportLabel = "odatacheck"

// maxIssueBody is GitHub's limit on issue body length.
const maxIssueBody = 65536

// PublishReport creates or updates the open issue titled title in
// owner/repo and returns its URL.
func (c *Client) PublishReport(ctx context.Context, owner, repo, title, body string) (string, error) {
	if c == nil || c.Client == nil {
		return "", fmt.Errorf("github client not initialized (use NewClient)")
	}
	body = truncateBody(body)

	existing, err := c.findReportIssue(ctx, owner, repo, title)
	if err != nil {
		return "", err
	}
	if existing != nil {
		issue, _, err := c.Client.Issues.Edit(ctx, owner, repo, existing.GetNumber(), &github.IssueRequest{
			Body: github.Ptr(body),
		})
		if err != nil {
			return "", fmt.Errorf("update issue #%d in %s/%s: %w", existing.GetNumber(), owner, repo, err)
		}
		return issue.GetHTMLURL(), nil
	}

	labels := []string{ReportLabel}
	issue, _, err := c.Client.Issues.Create(ctx, owner, repo, &github.IssueRequest{
		Title:  github.Ptr(title),
		Body:   github.Ptr(body),
		Labels: &labels,
	})
	if err != nil {
		return "", fmt.Errorf("create issue in %s/%s: %w", owner, repo, err)
	}
	return issue.GetHTMLURL(), nil
}

func (c *Client) findReportIssue(ctx context.Context, owner, repo, title string) (*github.Issue, error) {
	opts := &github.IssueListByRepoOptions{
		State:       "open",
		Labels:      []string{ReportLabel},
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		issues, resp, err := c.Client.Issues.ListByRepo(ctx, owner, repo, opts)
		if err != nil {
			return nil, fmt.Errorf("list issues in %s/%s: %w", owner, repo, err)
		}
		for _, issue := range issues {
			if issue.IsPullRequest() {
				continue
			}
			if strings.EqualFold(issue.GetTitle(), title) {
				return issue, nil
			}
		}
		if resp == nil || resp.NextPage == 0 {
			return nil, nil
		}
		opts.ListOptions.Page = resp.NextPage
	}
}

func truncateBody(body string) string {
	if len(body) <= maxIssueBody {
		return body
	}
	const note = "\n\n_Report truncated; see the full report artifact._\n"
	return body[:maxIssueBody-len(note)] + note
}
