// Package scm looks up commit metadata for builds posted without it.
package scm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// TokenEnv names the environment variable holding the GitHub token.
const TokenEnv = "TESTSTABILITY_GITHUB_TOKEN"

const (
	lookupTimeout = 10 * time.Second

	// Stay well under the authenticated API quota of 5000 requests per hour.
	requestsPerSecond = 1
	requestBurst      = 5
)

// ErrCommitNotFound is returned when the repository has no such commit.
var ErrCommitNotFound = errors.New("commit not found")

// Commit is the metadata of one commit.
type Commit struct {
	SHA     string
	Author  string
	Message string
}

// CommitLookup fetches commit metadata from a hosted repository.
type CommitLookup interface {
	LookupCommit(ctx context.Context, repository, sha string) (*Commit, error)
}

// GitHub looks up commits through the GitHub REST API.
type GitHub struct {
	client  *github.Client
	limiter *rate.Limiter
}

// NewGitHub creates a GitHub client. An empty token makes unauthenticated
// requests, which only see public repositories. A non-empty baseURL points the
// client at a GitHub Enterprise or test server.
func NewGitHub(token, baseURL string) (*GitHub, error) {
	var httpClient *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		httpClient = oauth2.NewClient(context.Background(), ts)
	}

	client := github.NewClient(httpClient)
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL: %w", err)
		}
		client.BaseURL = u
	}

	return &GitHub{
		client:  client,
		limiter: rate.NewLimiter(requestsPerSecond, requestBurst),
	}, nil
}

// LookupCommit returns the author login (or name, for commits not linked to
// an account) and message of sha in repository, given as owner/repo.
func (g *GitHub) LookupCommit(ctx context.Context, repository, sha string) (*Commit, error) {
	owner, repo, ok := strings.Cut(repository, "/")
	if !ok || owner == "" || repo == "" {
		return nil, fmt.Errorf("invalid repository %q: expected owner/repo", repository)
	}

	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	rc, _, err := g.client.Repositories.GetCommit(ctx, owner, repo, sha, nil)
	if err != nil {
		var errResp *github.ErrorResponse
		if errors.As(err, &errResp) && errResp.Response != nil &&
			(errResp.Response.StatusCode == http.StatusNotFound || errResp.Response.StatusCode == http.StatusUnprocessableEntity) {
			return nil, fmt.Errorf("%s@%s: %w", repository, sha, ErrCommitNotFound)
		}
		return nil, fmt.Errorf("fetch commit %s@%s: %w", repository, sha, err)
	}

	author := rc.GetAuthor().GetLogin()
	if author == "" {
		author = rc.GetCommit().GetAuthor().GetName()
	}

	return &Commit{
		SHA:     rc.GetSHA(),
		Author:  author,
		Message: rc.GetCommit().GetMessage(),
	}, nil
}
