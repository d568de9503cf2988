// Package repository fetches files from an ordered list of Maven
// repositories and verifies them against published checksums.
package repository

import (
	"net/url"
	"path/filepath"
	"strings"

	"depweaver/internal/diagnostics"
)

// Repository is one remote or local Maven repository. Its position in a
// slice is its priority.
type Repository struct {
	URL      string `yaml:"url" json:"url"`
	Username string `yaml:"username,omitempty" json:"-"`
	Password string `yaml:"password,omitempty" json:"-"`

	// localDir is set for file:// and plain path repositories.
	localDir string
}

// IsLocal reports whether the repository is a local directory.
func (r Repository) IsLocal() bool { return r.localDir != "" }

// LocalDir is the directory of a local repository.
func (r Repository) LocalDir() string { return r.localDir }

func (r Repository) String() string { return r.URL }

// Local builds a repository for a directory in Maven layout.
func Local(dir string) Repository {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = filepath.Clean(dir)
	}
	return Repository{URL: "file://" + filepath.ToSlash(abs), localDir: abs}
}

// Normalize turns user-supplied repository URLs into repositories.
//
// https URLs and local paths (file:// URLs or filesystem paths) are kept in
// order, with duplicates removed. Plain http and any other scheme are
// skipped with a warning, because downloading unauthenticated content over
// an insecure channel would undermine checksum verification.
func Normalize(raw []Repository, diags *diagnostics.Collector) []Repository {
	seen := make(map[string]bool)
	var out []Repository
	for _, r := range raw {
		u := strings.TrimRight(strings.TrimSpace(r.URL), "/")
		if u == "" {
			continue
		}
		var repo Repository
		switch {
		case strings.HasPrefix(u, "https://"):
			repo = Repository{URL: u, Username: r.Username, Password: r.Password}
		case strings.HasPrefix(u, "http://"):
			if diags != nil {
				diags.Warnf(diagnostics.IDInsecureRepository, u,
					"Repository %s uses the insecure http protocol and is skipped; use https instead", u)
			}
			continue
		case strings.HasPrefix(u, "file://"):
			parsed, err := url.Parse(u)
			if err != nil || parsed.Path == "" {
				if diags != nil {
					diags.Warnf(diagnostics.IDUnsupportedRepository, u, "Repository %s is not a valid file URL and is skipped", u)
				}
				continue
			}
			repo = Local(filepath.FromSlash(parsed.Path))
		case !strings.Contains(u, "://"):
			repo = Local(u)
		default:
			if diags != nil {
				diags.Warnf(diagnostics.IDUnsupportedRepository, u, "Repository %s uses an unsupported protocol and is skipped", u)
			}
			continue
		}
		if seen[repo.URL] {
			continue
		}
		seen[repo.URL] = true
		out = append(out, repo)
	}
	return out
}

// SetKey identifies an ordered repository list, for memoization.
func SetKey(repos []Repository) string {
	urls := make([]string, len(repos))
	for i, r := range repos {
		urls[i] = r.URL
	}
	return strings.Join(urls, "|")
}
