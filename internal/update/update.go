// Package update checks the project's GitHub releases for a newer version.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-version"

	"github.com/lpmbox/lpmbox/pkg/fetch"
)

// APIBase is the GitHub API endpoint, overridden in tests.
var APIBase = "https://api.github.com"

type release struct {
	TagName    string `json:"tag_name"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
}

// Latest holds the newest release and prerelease tags, empty when there is
// none.
type Latest struct {
	Release    string
	Prerelease string
}

// IsNewer reports whether candidate is a higher version than current. Tags
// that do not parse as versions are never newer.
func IsNewer(current, candidate string) bool {
	c, err := version.NewVersion(candidate)
	if err != nil {
		return false
	}
	cur, err := version.NewVersion(current)
	if err != nil {
		return true
	}
	return cur.LessThan(c)
}

func newest(have, tag string) string {
	if have == "" {
		if _, err := version.NewVersion(tag); err != nil {
			return ""
		}
		return tag
	}
	if IsNewer(have, tag) {
		return tag
	}
	return have
}

// LatestReleases returns the newest release and prerelease of owner/repo.
// Drafts are ignored.
func LatestReleases(ctx context.Context, doer fetch.Doer, owner, repo string) (*Latest, error) {
	if doer == nil {
		doer = http.DefaultClient
	}
	u := fmt.Sprintf("%s/repos/%s/%s/releases?per_page=20", APIBase, owner, repo)
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := doer.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, u)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var releases []release
	if err := json.Unmarshal(body, &releases); err != nil {
		return nil, fmt.Errorf("cannot decode releases: %w", err)
	}

	var latest Latest
	for _, r := range releases {
		if r.Draft || r.TagName == "" {
			continue
		}
		if r.Prerelease {
			latest.Prerelease = newest(latest.Prerelease, r.TagName)
		} else {
			latest.Release = newest(latest.Release, r.TagName)
		}
	}
	return &latest, nil
}
