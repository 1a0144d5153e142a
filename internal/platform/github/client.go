// Package github is a small REST client for the artifact repository: it reads
// template files and writes published pages through the contents and git data APIs.
package github

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	apperrors "github.com/yungbote/sitegen-backend/internal/pkg/errors"
	"github.com/yungbote/sitegen-backend/internal/pkg/httpx"
	"github.com/yungbote/sitegen-backend/internal/platform/logger"
)

type Config struct {
	BaseURL     string
	Token       string
	Owner       string
	Repo        string
	Branch      string
	AuthorName  string
	AuthorEmail string
	Timeout     time.Duration
	MaxRetries  int
}

type Client struct {
	log    *logger.Logger
	cfg    Config
	http   *resty.Client
	prefix string
}

func New(log *logger.Logger, cfg Config) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.Owner) == "" || strings.TrimSpace(cfg.Repo) == "" {
		return nil, fmt.Errorf("missing GITHUB_OWNER/GITHUB_REPO")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.github.com"
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Accept", "application/vnd.github+json").
		SetHeader("X-GitHub-Api-Version", "2022-11-28").
		SetHeader("User-Agent", "sitegen-publisher/1.0").
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return httpx.IsRetryableError(err)
			}
			return r != nil && httpx.IsRetryableHTTPStatus(r.StatusCode())
		})
	if cfg.Token != "" {
		httpClient.SetAuthToken(cfg.Token)
	}
	return &Client{
		log:    log.With("client", "GitHubClient"),
		cfg:    cfg,
		http:   httpClient,
		prefix: "/repos/" + url.PathEscape(cfg.Owner) + "/" + url.PathEscape(cfg.Repo),
	}, nil
}

func (c *Client) Branch() string { return c.cfg.Branch }

// StatusError is a non-2xx response from the API.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 300 {
		body = body[:300]
	}
	return fmt.Sprintf("github %s: status %d: %s", e.Op, e.Status, body)
}

func (e *StatusError) HTTPStatusCode() int { return e.Status }

// classify maps a response onto the pipeline's error classes.
func classify(op string, resp *resty.Response, err error) error {
	if err != nil {
		return apperrors.Transientf("github %s: %w", op, err)
	}
	status := resp.StatusCode()
	if status >= 200 && status < 300 {
		return nil
	}
	se := &StatusError{Op: op, Status: status, Body: resp.String()}
	switch {
	case status == http.StatusNotFound:
		return apperrors.Wrap(apperrors.ClassNotFound, errors.Join(apperrors.ErrNotFound, se))
	case status == http.StatusConflict, status == http.StatusUnprocessableEntity:
		return apperrors.Wrap(apperrors.ClassTransient, errors.Join(apperrors.ErrConflict, se))
	case status == http.StatusForbidden && resp.Header().Get("X-RateLimit-Remaining") == "0":
		return apperrors.Wrap(apperrors.ClassTransient, se)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return apperrors.Wrap(apperrors.ClassAuth, errors.Join(apperrors.ErrUnauthorized, se))
	case httpx.IsRetryableHTTPStatus(status):
		return apperrors.Wrap(apperrors.ClassTransient, se)
	default:
		return apperrors.Wrap(apperrors.ClassValidation, se)
	}
}

// FileContent is a file read from the configured branch.
type FileContent struct {
	Path    string
	SHA     string
	Content []byte
}

type contentsResponse struct {
	Type     string `json:"type"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

type blobResponse struct {
	SHA      string `json:"sha"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

// GetFile reads path at the branch head. A missing file is a not-found error.
func (c *Client) GetFile(ctx context.Context, path string) (*FileContent, error) {
	var out contentsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("ref", c.cfg.Branch).
		SetResult(&out).
		Get(c.prefix + "/contents/" + escapePath(path))
	if cErr := classify("get contents", resp, err); cErr != nil {
		return nil, cErr
	}
	if out.Type != "" && out.Type != "file" {
		return nil, apperrors.Validationf("github get contents: %s is a %s", path, out.Type)
	}
	// Files over 1 MB come back without inline content.
	if out.Encoding == "none" || (out.Content == "" && out.SHA != "") {
		data, bErr := c.getBlob(ctx, out.SHA)
		if bErr != nil {
			return nil, bErr
		}
		return &FileContent{Path: path, SHA: out.SHA, Content: data}, nil
	}
	data, err := decodeBase64(out.Content)
	if err != nil {
		return nil, fmt.Errorf("github get contents %s: %w", path, err)
	}
	return &FileContent{Path: path, SHA: out.SHA, Content: data}, nil
}

func (c *Client) getBlob(ctx context.Context, sha string) ([]byte, error) {
	var out blobResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get(c.prefix + "/git/blobs/" + url.PathEscape(sha))
	if cErr := classify("get blob", resp, err); cErr != nil {
		return nil, cErr
	}
	return decodeBase64(out.Content)
}

// ReadFile returns the bytes of path at the branch head.
func (c *Client) ReadFile(ctx context.Context, path string) ([]byte, error) {
	f, err := c.GetFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return f.Content, nil
}

// FileSHA returns the blob sha of path, or "" when the file does not exist.
func (c *Client) FileSHA(ctx context.Context, path string) (string, error) {
	f, err := c.GetFile(ctx, path)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return f.SHA, nil
}

type commitAuthor struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type putContentsRequest struct {
	Message string        `json:"message"`
	Content string        `json:"content"`
	Branch  string        `json:"branch"`
	SHA     string        `json:"sha,omitempty"`
	Author  *commitAuthor `json:"author,omitempty"`
}

type putContentsResponse struct {
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

// PutFile writes a single file. priorSHA guards against lost updates: the API
// rejects the write with a conflict when the file changed since it was read.
func (c *Client) PutFile(ctx context.Context, path string, content []byte, message, priorSHA string) (string, error) {
	var out putContentsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(putContentsRequest{
			Message: message,
			Content: base64.StdEncoding.EncodeToString(content),
			Branch:  c.cfg.Branch,
			SHA:     priorSHA,
			Author:  c.author(),
		}).
		SetResult(&out).
		Put(c.prefix + "/contents/" + escapePath(path))
	if cErr := classify("put contents", resp, err); cErr != nil {
		return "", cErr
	}
	return out.Commit.SHA, nil
}

func (c *Client) author() *commitAuthor {
	if c.cfg.AuthorName == "" || c.cfg.AuthorEmail == "" {
		return nil
	}
	return &commitAuthor{Name: c.cfg.AuthorName, Email: c.cfg.AuthorEmail}
}

func escapePath(p string) string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func decodeBase64(s string) ([]byte, error) {
	clean := strings.NewReplacer("\n", "", "\r", "").Replace(s)
	return base64.StdEncoding.DecodeString(clean)
}
