package discovery

import (
	"context"
	"iter"

	"go.uber.org/zap"

	"github.com/sells-group/afpanel/internal/catalog"
	"github.com/sells-group/afpanel/internal/model"
)

// Locator enumerates current-build projects for an assay.
type Locator struct {
	cat    catalog.Catalog
	scheme model.NameScheme
}

// NewLocator creates a Locator.
func NewLocator(cat catalog.Catalog, scheme model.NameScheme) *Locator {
	return &Locator{cat: cat, scheme: scheme}
}

// Locate lazily yields the projects matching q. Catalog failures are yielded
// as *model.DiscoveryError; an empty sequence is not an error. Project names
// that match the glob but not the naming scheme are logged and skipped.
func (l *Locator) Locate(ctx context.Context, q Query) iter.Seq2[model.Project, error] {
	log := zap.L().With(zap.String("component", "locator"), zap.String("assay", q.Assay))
	return func(yield func(model.Project, error) bool) {
		query := catalog.ProjectQuery{
			NameGlob:      l.scheme.Glob(q.Assay),
			CreatedAfter:  q.Start,
			CreatedBefore: q.End,
		}
		for desc, err := range l.cat.FindProjects(ctx, query) {
			if err != nil {
				yield(model.Project{}, &model.DiscoveryError{Op: "find projects", Err: err})
				return
			}
			p, err := l.scheme.Parse(desc.ID, desc.Name, q.Assay, desc.Created)
			if err != nil {
				log.Warn("skipping project with unexpected name",
					zap.String("project_id", desc.ID), zap.String("name", desc.Name))
				continue
			}
			if !yield(p, nil) {
				return
			}
		}
	}
}
