package checks

import (
	"context"

	"odatacheck/internal/data"
	"odatacheck/internal/odata"
	"odatacheck/internal/rules"
)

// leaf carries the static parts shared by every leaf check. Check types embed
// it and implement Evaluate.
type leaf struct {
	desc        rules.Descriptor
	title       string
	description string
	deps        []data.DependencyKey
}

func newLeaf(name string, level rules.Level, title, description string, deps ...data.DependencyKey) leaf {
	return leaf{
		desc:        rules.Descriptor{Name: name, Level: level, Type: rules.DependencyNone},
		title:       title,
		description: description,
		deps:        deps,
	}
}

// inline marks a leaf that runs dependent sub-checks itself.
func (l leaf) inline() leaf {
	l.desc.Type = rules.DependencyInline
	return l
}

// since restricts the leaf to the listed protocol versions.
func (l leaf) since(versions ...string) leaf {
	l.desc.Versions = versions
	return l
}

func (l leaf) ID() string                   { return l.desc.Name }
func (l leaf) Title() string                { return l.title }
func (l leaf) Description() string          { return l.description }
func (l leaf) Descriptor() rules.Descriptor { return l.desc }

func (l leaf) Dependencies(ctx context.Context, svc *odata.Service) ([]data.DependencyKey, error) {
	return append([]data.DependencyKey(nil), l.deps...), nil
}
