package tools

// GitHub remediation tool. The model can propose a configuration fix and
// open a pull request for it: branch from the repository default branch,
// commit the suggested file content, open the PR. The returned html_url
// is what ends up in the verdict's prLink field.

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/canaryops/rollout-agent/internal/llm/types"
)

const defaultGitHubBaseURL = "https://api.github.com"

// GitHubClient is a minimal GitHub REST v3 client scoped to one repository.
type GitHubClient struct {
	baseURL    string
	token      string
	owner      string
	repo       string
	httpClient *http.Client
	logger     *zap.Logger
}

// GitHubOption customises a GitHubClient at construction time.
type GitHubOption func(*GitHubClient)

// WithGitHubBaseURL points the client at a different API host, mainly for tests.
func WithGitHubBaseURL(url string) GitHubOption {
	return func(c *GitHubClient) { c.baseURL = url }
}

// NewGitHubClient creates a client for owner/repo authenticated with token.
func NewGitHubClient(token, owner, repo string, logger *zap.Logger, opts ...GitHubOption) *GitHubClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &GitHubClient{
		baseURL: defaultGitHubBaseURL,
		token:   token,
		owner:   owner,
		repo:    repo,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type repository struct {
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	HTMLURL       string `json:"html_url"`
}

type gitRef struct {
	Ref    string `json:"ref"`
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

type pullRequest struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
	State   string `json:"state"`
	Title   string `json:"title"`
}

func (c *GitHubClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("github %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var ghErr struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &ghErr)
		if ghErr.Message != "" {
			return fmt.Errorf("github %s %s: status %d: %s", method, path, resp.StatusCode, ghErr.Message)
		}
		return fmt.Errorf("github %s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// GetRepository fetches repository metadata including the default branch.
func (c *GitHubClient) GetRepository(ctx context.Context) (*repository, error) {
	var repo repository
	path := fmt.Sprintf("/repos/%s/%s", c.owner, c.repo)
	if err := c.do(ctx, http.MethodGet, path, nil, &repo); err != nil {
		return nil, err
	}
	return &repo, nil
}

// CreateBranch creates branchName pointing at the head of baseBranch.
func (c *GitHubClient) CreateBranch(ctx context.Context, baseBranch, branchName string) error {
	var base gitRef
	refPath := fmt.Sprintf("/repos/%s/%s/git/ref/heads/%s", c.owner, c.repo, baseBranch)
	if err := c.do(ctx, http.MethodGet, refPath, nil, &base); err != nil {
		return fmt.Errorf("resolve base branch %s: %w", baseBranch, err)
	}

	createPath := fmt.Sprintf("/repos/%s/%s/git/refs", c.owner, c.repo)
	body := map[string]string{
		"ref": "refs/heads/" + branchName,
		"sha": base.Object.SHA,
	}
	if err := c.do(ctx, http.MethodPost, createPath, body, nil); err != nil {
		return fmt.Errorf("create branch %s: %w", branchName, err)
	}
	return nil
}

// PutFile creates or updates filePath on branch with content.
func (c *GitHubClient) PutFile(ctx context.Context, branch, filePath, commitMessage, content string) error {
	path := fmt.Sprintf("/repos/%s/%s/contents/%s", c.owner, c.repo, filePath)

	// Updating an existing file needs its current blob SHA.
	var existing struct {
		SHA string `json:"sha"`
	}
	_ = c.do(ctx, http.MethodGet, path+"?ref="+branch, nil, &existing)

	body := map[string]string{
		"message": commitMessage,
		"content": base64.StdEncoding.EncodeToString([]byte(content)),
		"branch":  branch,
	}
	if existing.SHA != "" {
		body["sha"] = existing.SHA
	}
	if err := c.do(ctx, http.MethodPut, path, body, nil); err != nil {
		return fmt.Errorf("put file %s: %w", filePath, err)
	}
	return nil
}

// CreatePullRequest opens a PR from head into base.
func (c *GitHubClient) CreatePullRequest(ctx context.Context, title, head, base, body string) (*pullRequest, error) {
	var pr pullRequest
	path := fmt.Sprintf("/repos/%s/%s/pulls", c.owner, c.repo)
	req := map[string]string{
		"title": title,
		"head":  head,
		"base":  base,
		"body":  body,
	}
	if err := c.do(ctx, http.MethodPost, path, req, &pr); err != nil {
		return nil, err
	}
	return &pr, nil
}

// RegisterPRTool adds create_github_pr to the registry.
func (c *GitHubClient) RegisterPRTool(r *Registry) {
	r.Register(types.Tool{
		Name:        "create_github_pr",
		Description: "Open a GitHub pull request with a proposed configuration fix. Returns the PR url to include in the final verdict's prLink.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"title": map[string]interface{}{
					"type":        "string",
					"description": "Pull request title",
				},
				"body": map[string]interface{}{
					"type":        "string",
					"description": "Pull request description explaining the root cause and the fix",
				},
				"branchName": map[string]interface{}{
					"type":        "string",
					"description": "Name for the new branch (e.g. 'fix/canary-memory-limit')",
				},
				"filePath": map[string]interface{}{
					"type":        "string",
					"description": "Repository path of the file to create or update",
				},
				"fileContent": map[string]interface{}{
					"type":        "string",
					"description": "Full new content of the file",
				},
				"commitMessage": map[string]interface{}{
					"type":        "string",
					"description": "Commit message for the file change",
				},
			},
			"required": []string{"title", "body", "branchName", "filePath", "fileContent", "commitMessage"},
		},
	}, c.createPR)
}

func (c *GitHubClient) createPR(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Title         string `json:"title"`
		Body          string `json:"body"`
		BranchName    string `json:"branchName"`
		FilePath      string `json:"filePath"`
		FileContent   string `json:"fileContent"`
		CommitMessage string `json:"commitMessage"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if in.Title == "" || in.BranchName == "" || in.FilePath == "" {
		return "", fmt.Errorf("title, branchName and filePath are required")
	}

	repo, err := c.GetRepository(ctx)
	if err != nil {
		return "", err
	}
	if err := c.CreateBranch(ctx, repo.DefaultBranch, in.BranchName); err != nil {
		return "", err
	}
	if err := c.PutFile(ctx, in.BranchName, in.FilePath, in.CommitMessage, in.FileContent); err != nil {
		return "", err
	}
	pr, err := c.CreatePullRequest(ctx, in.Title, in.BranchName, repo.DefaultBranch, in.Body)
	if err != nil {
		return "", err
	}

	c.logger.Info("opened remediation pull request",
		zap.String("repo", repo.FullName),
		zap.Int("number", pr.Number),
		zap.String("url", pr.HTMLURL))

	return marshalResult(map[string]interface{}{
		"prNumber": pr.Number,
		"prUrl":    pr.HTMLURL,
		"state":    pr.State,
		"branch":   in.BranchName,
		"base":     repo.DefaultBranch,
	})
}
