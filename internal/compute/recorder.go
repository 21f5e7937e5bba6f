package compute

import (
	"wasmscan/internal/models"
)

// recorder collects every dependent key an evaluation touches, before the
// corresponding read runs. Keys are recorded even when the read comes back
// empty: an absent value constrains the result just as much as a present
// one, and a later write to that key must invalidate the computation.
type recorder struct {
	deps []models.Dependency
	seen map[string]struct{}
}

func newRecorder() *recorder {
	return &recorder{seen: make(map[string]struct{})}
}

func (r *recorder) record(key string, prefix bool) {
	id := key
	if prefix {
		id += "\x00prefix"
	}
	if _, ok := r.seen[id]; ok {
		return
	}
	r.seen[id] = struct{}{}
	r.deps = append(r.deps, models.Dependency{Key: key, Prefix: prefix})
}

// dependencies returns the recorded set in first-touch order.
func (r *recorder) dependencies() []models.Dependency {
	return r.deps
}

// SplitDependencies partitions a dependency set into event dependencies and
// transformation dependencies, the two lists a computation row persists.
func SplitDependencies(deps []models.Dependency) (events, transformations []models.Dependency) {
	for _, d := range deps {
		ns, _ := models.SplitDependentKey(d.Key)
		if ns == models.NamespaceWasmTransformation {
			transformations = append(transformations, d)
		} else {
			events = append(events, d)
		}
	}
	return events, transformations
}
