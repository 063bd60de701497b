package mutation

// DefaultMarker is the class that marks a value container.
const DefaultMarker = "consumption-item-value"

// Detector filters mutation batches down to the ones that may have changed
// a displayed value. It matches on structure only, never on content, and
// errs towards reporting a change.
type Detector struct {
	marker string
}

// NewDetector creates a Detector for the given marker class. An empty
// marker uses DefaultMarker.
func NewDetector(marker string) *Detector {
	if marker == "" {
		marker = DefaultMarker
	}
	return &Detector{marker: marker}
}

// Marker returns the class being matched.
func (d *Detector) Marker() string { return d.marker }

// Relevant reports whether any record in the batch targets a value
// container or a node inside one. It stops at the first match.
func (d *Detector) Relevant(batch []Record) bool {
	for _, r := range batch {
		if d.inContainer(r.Target) {
			return true
		}
	}
	return false
}

// inContainer walks from n to the root. Text and comment nodes have no
// classes, so the walk effectively starts at their parent element.
func (d *Detector) inContainer(n *Node) bool {
	for ; n != nil; n = n.Parent {
		if n.Type == ElementNode && n.HasClass(d.marker) {
			return true
		}
	}
	return false
}
