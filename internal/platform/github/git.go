package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"sort"
)

type refResponse struct {
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

type commitResponse struct {
	SHA  string `json:"sha"`
	Tree struct {
		SHA string `json:"sha"`
	} `json:"tree"`
}

type shaResponse struct {
	SHA string `json:"sha"`
}

type treeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
}

type createTreeRequest struct {
	BaseTree string      `json:"base_tree"`
	Tree     []treeEntry `json:"tree"`
}

type createCommitRequest struct {
	Message string        `json:"message"`
	Tree    string        `json:"tree"`
	Parents []string      `json:"parents"`
	Author  *commitAuthor `json:"author,omitempty"`
}

type updateRefRequest struct {
	SHA   string `json:"sha"`
	Force bool   `json:"force"`
}

// CommitFiles writes every file in one commit on the branch head. The ref
// update is not forced, so a concurrent push surfaces as a conflict error
// and nothing becomes visible.
func (c *Client) CommitFiles(ctx context.Context, files map[string][]byte, message string) (string, error) {
	if len(files) == 0 {
		return "", fmt.Errorf("github commit: no files")
	}
	refPath := c.prefix + "/git/ref/heads/" + url.PathEscape(c.cfg.Branch)
	var ref refResponse
	resp, err := c.http.R().SetContext(ctx).SetResult(&ref).Get(refPath)
	if cErr := classify("get ref", resp, err); cErr != nil {
		return "", cErr
	}
	headSHA := ref.Object.SHA

	var head commitResponse
	resp, err = c.http.R().SetContext(ctx).SetResult(&head).Get(c.prefix + "/git/commits/" + url.PathEscape(headSHA))
	if cErr := classify("get commit", resp, err); cErr != nil {
		return "", cErr
	}

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	entries := make([]treeEntry, 0, len(paths))
	for _, p := range paths {
		var blob shaResponse
		resp, err = c.http.R().
			SetContext(ctx).
			SetBody(map[string]string{
				"content":  base64.StdEncoding.EncodeToString(files[p]),
				"encoding": "base64",
			}).
			SetResult(&blob).
			Post(c.prefix + "/git/blobs")
		if cErr := classify("create blob", resp, err); cErr != nil {
			return "", cErr
		}
		entries = append(entries, treeEntry{Path: p, Mode: "100644", Type: "blob", SHA: blob.SHA})
	}

	var tree shaResponse
	resp, err = c.http.R().
		SetContext(ctx).
		SetBody(createTreeRequest{BaseTree: head.Tree.SHA, Tree: entries}).
		SetResult(&tree).
		Post(c.prefix + "/git/trees")
	if cErr := classify("create tree", resp, err); cErr != nil {
		return "", cErr
	}

	var commit shaResponse
	resp, err = c.http.R().
		SetContext(ctx).
		SetBody(createCommitRequest{Message: message, Tree: tree.SHA, Parents: []string{headSHA}, Author: c.author()}).
		SetResult(&commit).
		Post(c.prefix + "/git/commits")
	if cErr := classify("create commit", resp, err); cErr != nil {
		return "", cErr
	}

	resp, err = c.http.R().
		SetContext(ctx).
		SetBody(updateRefRequest{SHA: commit.SHA, Force: false}).
		Patch(c.prefix + "/git/refs/heads/" + url.PathEscape(c.cfg.Branch))
	if cErr := classify("update ref", resp, err); cErr != nil {
		return "", cErr
	}
	c.log.Info("committed files", "commit_sha", commit.SHA, "files", len(paths))
	return commit.SHA, nil
}
