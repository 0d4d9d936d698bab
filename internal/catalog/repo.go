// Package catalog resolves references into the shared components
// repository that remote pipeline steps are fetched from.
package catalog

import (
	"fmt"
	"strings"
)

// RepoRef is a parsed components repository reference. The configured
// form is "<clone-url>#<subdir>", e.g.
// "https://github.com/acme/components.git#components".
type RepoRef struct {
	URL    string
	Subdir string
}

// ParseRepoRef splits a components repository reference into its clone
// URL and optional subdirectory.
func ParseRepoRef(s string) (RepoRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return RepoRef{}, fmt.Errorf("components repository is empty")
	}

	url, subdir, _ := strings.Cut(s, "#")
	if url == "" {
		return RepoRef{}, fmt.Errorf("components repository %q has no URL", s)
	}
	if strings.Contains(subdir, "#") {
		return RepoRef{}, fmt.Errorf("components repository %q has multiple fragments", s)
	}

	return RepoRef{URL: url, Subdir: subdir}, nil
}

// StepURI renders the runner URI for one component: the clone URL with
// the component's directory as the fragment. The runner fetches and
// materializes the referenced tree itself.
func (r RepoRef) StepURI(component string) string {
	dir := component
	if r.Subdir != "" {
		dir = r.Subdir + "/" + component
	}
	return r.URL + "#" + dir
}

func (r RepoRef) String() string {
	if r.Subdir == "" {
		return r.URL
	}
	return r.URL + "#" + r.Subdir
}
