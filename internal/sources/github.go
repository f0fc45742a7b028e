package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"

	"example.com/worklog/internal/domain"
	"example.com/worklog/internal/normalize"
)

const githubPageSize = 100

// GitHubConfig configures the commit adapter. With no repositories listed,
// the adapter walks every repository the token can see.
type GitHubConfig struct {
	BaseURL      string // Empty means api.github.com.
	Token        string
	Username     string
	Repositories []string
}

// GitHub lists commits authored by the user.
type GitHub struct {
	client   *github.Client
	username string
	repos    []string
}

// NewGitHub creates a commit adapter authenticated with a personal access
// token.
func NewGitHub(cfg GitHubConfig) (*GitHub, error) {
	if cfg.Token == "" {
		return nil, errors.New("github: missing token")
	}
	if cfg.Username == "" {
		return nil, errors.New("github: missing username")
	}
	httpClient := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}))
	httpClient.Timeout = 30 * time.Second
	client := github.NewClient(httpClient)
	if cfg.BaseURL != "" {
		base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("github: base url: %w", err)
		}
		client.BaseURL = base
	}
	return &GitHub{client: client, username: cfg.Username, repos: cfg.Repositories}, nil
}

func (g *GitHub) Source() domain.Source { return domain.SourceCommit }

// Fetch lists the user's commits in rng for each repository.
func (g *GitHub) Fetch(ctx context.Context, rng domain.DateRange) ([]normalize.RawPayload, error) {
	repos := g.repos
	if len(repos) == 0 {
		var err error
		if repos, err = g.repositories(ctx); err != nil {
			return nil, err
		}
	}

	var out []normalize.RawPayload
	for _, repo := range repos {
		commits, err := g.commits(ctx, repo, rng)
		if err != nil {
			return nil, fmt.Errorf("list commits for %s: %w", repo, err)
		}
		for _, c := range commits {
			p, err := payload(domain.SourceCommit, c)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
	}
	return out, nil
}

func (g *GitHub) commits(ctx context.Context, repo string, rng domain.DateRange) ([]normalize.Commit, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok {
		return nil, fmt.Errorf("repository %q is not owner/name", repo)
	}
	opts := &github.CommitsListOptions{
		Author:      g.username,
		Since:       rng.Start.UTC(),
		Until:       rng.End.UTC(),
		ListOptions: github.ListOptions{PerPage: githubPageSize},
	}

	var out []normalize.Commit
	for {
		page, resp, err := g.client.Repositories.ListCommits(ctx, owner, name, opts)
		if resp != nil && resp.StatusCode == http.StatusConflict {
			// Empty repository.
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		for _, c := range page {
			author := c.GetCommit().GetAuthor()
			out = append(out, normalize.Commit{
				SHA:        c.GetSHA(),
				HTMLURL:    c.GetHTMLURL(),
				Repository: repo,
				Commit: normalize.CommitDetail{
					Message: c.GetCommit().GetMessage(),
					Author: normalize.CommitAuthor{
						Name:  author.GetName(),
						Email: author.GetEmail(),
						Date:  author.GetDate().Format(time.RFC3339),
					},
				},
			})
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// repositories lists repositories visible to the token, most recently pushed
// first.
func (g *GitHub) repositories(ctx context.Context) ([]string, error) {
	opts := &github.RepositoryListByAuthenticatedUserOptions{
		Sort:        "pushed",
		ListOptions: github.ListOptions{PerPage: githubPageSize},
	}
	var names []string
	for {
		repos, resp, err := g.client.Repositories.ListByAuthenticatedUser(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("list repositories: %w", err)
		}
		for _, r := range repos {
			names = append(names, r.GetFullName())
		}
		if resp.NextPage == 0 {
			return names, nil
		}
		opts.Page = resp.NextPage
	}
}
