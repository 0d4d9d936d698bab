// Package artifact names the files and models the pipeline steps pass
// between each other through the experiment tracker.
package artifact

import (
	"fmt"
	"strings"
)

// Well-known artifact names produced and consumed by the pipeline.
const (
	RawSample   = "sample.csv"
	CleanSample = "clean_sample.csv"
	TrainVal    = "trainval_data.csv"
	TestData    = "test_data.csv"
	ModelExport = "random_forest_export"
)

// Aliases used to pin a specific version of an artifact.
const (
	TagLatest    = "latest"
	TagReference = "reference"
	TagProd      = "prod"
)

// Ref identifies a tracked artifact at a specific alias, rendered as
// "name:tag" in step parameters.
type Ref struct {
	Name string
	Tag  string
}

// Latest returns a Ref pinned to the latest alias.
func Latest(name string) Ref {
	return Ref{Name: name, Tag: TagLatest}
}

// Tagged returns a Ref pinned to an explicit alias.
func Tagged(name, tag string) Ref {
	return Ref{Name: name, Tag: tag}
}

func (r Ref) String() string {
	return r.Name + ":" + r.Tag
}

// Parse splits a "name:tag" reference. The tag defaults to latest when
// omitted.
func Parse(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Ref{}, fmt.Errorf("empty artifact reference")
	}

	name, tag, found := strings.Cut(s, ":")
	if !found {
		return Ref{Name: name, Tag: TagLatest}, nil
	}
	if name == "" {
		return Ref{}, fmt.Errorf("artifact reference %q has no name", s)
	}
	if tag == "" {
		return Ref{}, fmt.Errorf("artifact reference %q has an empty tag", s)
	}
	return Ref{Name: name, Tag: tag}, nil
}
