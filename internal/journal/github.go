package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"orbiter/internal/logging"
)

// GitHub is a Journal backed by a GitHub issue's comment thread, accessed
// through the gh CLI so the user's existing auth is reused.
type GitHub struct {
	repo   string // "owner/repo"
	issue  int
	logger *logging.Logger

	// runner is swappable for tests; defaults to running gh.
	runner func(ctx context.Context, args ...string) ([]byte, error)
}

// NewGitHub creates a GitHub journal for the given repo and issue number.
func NewGitHub(repo string, issue int, logger *logging.Logger) *GitHub {
	if logger == nil {
		logger = logging.NopLogger()
	}
	g := &GitHub{repo: repo, issue: issue, logger: logger}
	g.runner = g.runGH
	return g
}

func (g *GitHub) runGH(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "gh", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("gh %s: %w\noutput: %s", strings.Join(args[:min(len(args), 3)], " "), err, string(output))
	}
	return output, nil
}

// ghComment is the subset of the comments API payload we consume.
type ghComment struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Append posts a comment to the issue and returns the new comment id.
func (g *GitHub) Append(ctx context.Context, body string) (string, error) {
	out, err := g.runner(ctx,
		"api",
		fmt.Sprintf("repos/%s/issues/%d/comments", g.repo, g.issue),
		"-f", "body="+body,
		"--jq", ".id",
	)
	if err != nil {
		return "", fmt.Errorf("append journal entry: %w", err)
	}

	id := strings.TrimSpace(string(out))
	g.logger.Debug("posted journal entry", "repo", g.repo, "issue", g.issue, "entry", id)
	return id, nil
}

// List returns all issue comments oldest-first, paging through the API.
func (g *GitHub) List(ctx context.Context) ([]Entry, error) {
	out, err := g.runner(ctx,
		"api",
		"--paginate",
		fmt.Sprintf("repos/%s/issues/%d/comments?per_page=100", g.repo, g.issue),
	)
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}

	comments, err := decodeComments(out)
	if err != nil {
		return nil, fmt.Errorf("decode journal entries: %w", err)
	}

	entries := make([]Entry, 0, len(comments))
	for _, c := range comments {
		entries = append(entries, Entry{
			ID:        strconv.FormatInt(c.ID, 10),
			Body:      c.Body,
			CreatedAt: c.CreatedAt,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

// decodeComments handles both a single JSON array and the concatenated
// arrays gh emits when paginating.
func decodeComments(data []byte) ([]ghComment, error) {
	var all []ghComment
	dec := json.NewDecoder(strings.NewReader(string(data)))
	for dec.More() {
		var page []ghComment
		if err := dec.Decode(&page); err != nil {
			return nil, err
		}
		all = append(all, page...)
	}
	return all, nil
}

// Edit replaces the body of an existing comment. Used only for identity
// correction.
func (g *GitHub) Edit(ctx context.Context, id, body string) error {
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		return fmt.Errorf("%w: %q", ErrEntryNotFound, id)
	}

	_, err := g.runner(ctx,
		"api",
		"--method", "PATCH",
		fmt.Sprintf("repos/%s/issues/comments/%s", g.repo, id),
		"-f", "body="+body,
	)
	if err != nil {
		return fmt.Errorf("edit journal entry %s: %w", id, err)
	}

	g.logger.Debug("edited journal entry", "repo", g.repo, "entry", id)
	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
