// Package tracker talks to the external issue tracker. Status comments
// posted here double as ground-truth markers: a resume consults them to
// confirm what the state file claims.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Issue is the tracker's view of one issue
type Issue struct {
	Number int      `json:"number"`
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels"`
	State  string   `json:"state"`
}

// Tracker is the capability interface for issue tracker access
type Tracker interface {
	// FetchIssue loads one issue by number
	FetchIssue(ctx context.Context, number int) (*Issue, error)

	// PostComment adds a comment to an issue
	PostComment(ctx context.Context, number int, body string) error

	// ListComments returns all comment bodies on an issue, oldest first
	ListComments(ctx context.Context, number int) ([]string, error)
}

// StatusMarker is the prefix of orchestrator status comments. Comments
// carrying it are machine-written and parsed back on resume.
const StatusMarker = "<!-- muster-status:"

// FormatStatusComment renders a machine-readable status comment
func FormatStatusComment(issueID, phase, status string) string {
	return fmt.Sprintf("%s %s/%s=%s -->\n**muster**: phase `%s` is `%s` for `%s`.",
		StatusMarker, issueID, phase, status, phase, status, issueID)
}

// ParseStatusComment extracts (issueID, phase, status) from a status
// comment, or ok=false for ordinary comments
func ParseStatusComment(body string) (issueID, phase, status string, ok bool) {
	idx := strings.Index(body, StatusMarker)
	if idx < 0 {
		return "", "", "", false
	}
	rest := body[idx+len(StatusMarker):]
	end := strings.Index(rest, "-->")
	if end < 0 {
		return "", "", "", false
	}
	marker := strings.TrimSpace(rest[:end])
	slash := strings.Index(marker, "/")
	eq := strings.LastIndex(marker, "=")
	if slash < 0 || eq < slash {
		return "", "", "", false
	}
	return marker[:slash], marker[slash+1 : eq], marker[eq+1:], true
}

// GH talks to GitHub through the gh CLI, which handles auth and API
// plumbing on the operator's behalf
type GH struct {
	repo string
}

// NewGH creates a gh-backed tracker for an owner/repo
func NewGH(repo string) *GH {
	return &GH{repo: repo}
}

// CheckInstalled verifies the gh binary is reachable
func (g *GH) CheckInstalled() error {
	if _, err := exec.LookPath("gh"); err != nil {
		return fmt.Errorf("gh CLI not found: %w", err)
	}
	return nil
}

type ghIssue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	State  string `json:"state"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
}

// FetchIssue loads one issue by number
func (g *GH) FetchIssue(ctx context.Context, number int) (*Issue, error) {
	cmd := exec.CommandContext(ctx, "gh", "issue", "view", strconv.Itoa(number),
		"--repo", g.repo,
		"--json", "number,title,body,state,labels")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("gh issue view %d: %w", number, err)
	}

	var gh ghIssue
	if err := json.Unmarshal(output, &gh); err != nil {
		return nil, fmt.Errorf("parse gh output: %w", err)
	}
	labels := make([]string, len(gh.Labels))
	for i, l := range gh.Labels {
		labels[i] = l.Name
	}
	return &Issue{
		Number: gh.Number,
		Title:  gh.Title,
		Body:   gh.Body,
		State:  gh.State,
		Labels: labels,
	}, nil
}

// PostComment adds a comment to an issue
func (g *GH) PostComment(ctx context.Context, number int, body string) error {
	cmd := exec.CommandContext(ctx, "gh", "issue", "comment", strconv.Itoa(number),
		"--repo", g.repo,
		"--body", body)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("gh issue comment %d: %s: %w", number, out, err)
	}
	return nil
}

// ListComments returns all comment bodies on an issue, oldest first
func (g *GH) ListComments(ctx context.Context, number int) ([]string, error) {
	cmd := exec.CommandContext(ctx, "gh", "issue", "view", strconv.Itoa(number),
		"--repo", g.repo,
		"--json", "comments")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("gh issue view %d comments: %w", number, err)
	}

	var parsed struct {
		Comments []struct {
			Body string `json:"body"`
		} `json:"comments"`
	}
	if err := json.Unmarshal(output, &parsed); err != nil {
		return nil, fmt.Errorf("parse gh output: %w", err)
	}
	bodies := make([]string, len(parsed.Comments))
	for i, c := range parsed.Comments {
		bodies[i] = c.Body
	}
	return bodies, nil
}
