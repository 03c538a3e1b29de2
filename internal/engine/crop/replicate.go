package crop

import (
	"log"
	"strings"

	"github.com/gridcrop/server/internal/container"
)

// Replicator lazily mirrors the source group hierarchy into the destination
// container, copying group attributes only for groups it actually creates.
type Replicator struct {
	src     *container.Container
	dst     *container.Container
	created map[string]bool
	verbose bool
}

func NewReplicator(src, dst *container.Container, verbose bool) *Replicator {
	return &Replicator{src: src, dst: dst, created: map[string]bool{}, verbose: verbose}
}

// CopyRootAttrs copies the source root attributes once. Called at the start
// of an operation, independent of any group path.
func (r *Replicator) CopyRootAttrs() error {
	attrs, err := r.src.Attrs("")
	if err != nil {
		return err
	}
	if len(attrs) == 0 {
		return nil
	}
	if r.verbose {
		log.Printf("[Crop] copied %d root attributes", len(attrs))
	}
	return r.dst.SetAttrs("", attrs)
}

// Ensure creates each missing ancestor of groupPath in order. For every group
// created (not reused), attributes are copied from the matching source group
// when present. Calling Ensure twice for the same path is idempotent.
func (r *Replicator) Ensure(groupPath string) error {
	groupPath = strings.Trim(groupPath, "/")
	if groupPath == "" {
		return nil
	}

	parts := strings.Split(groupPath, "/")
	current := ""
	for _, part := range parts {
		if part == "" {
			continue
		}
		if current == "" {
			current = part
		} else {
			current = current + "/" + part
		}
		if r.created[current] || r.dst.IsGroup(current) {
			continue
		}
		if err := r.dst.CreateGroup(current); err != nil {
			return err
		}
		r.created[current] = true
		if r.verbose {
			log.Printf("[Crop] created group /%s", current)
		}
		if r.src.IsGroup(current) {
			attrs, err := r.src.Attrs(current)
			if err != nil {
				return err
			}
			if len(attrs) > 0 {
				if err := r.dst.SetAttrs(current, attrs); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
