package runstate

// Status is the lifecycle state of a run.
type Status string

// Run statuses
const (
	StatusQueued          Status = "queued"
	StatusLoadingPackages Status = "loading_packages"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.rank() >= 0
}

func (s Status) rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusLoadingPackages:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

// CanTransition reports whether a run in status s may move to next.
// Repeating a non-terminal status is allowed.
func (s Status) CanTransition(next Status) bool {
	if s.Terminal() || !next.Valid() {
		return false
	}
	return next.rank() >= s.rank()
}

// OutputKind distinguishes text from rendered images.
type OutputKind string

// Output kinds
const (
	OutputText  OutputKind = "text"
	OutputImage OutputKind = "image"
)

// ImagePrefix starts every image value.
const ImagePrefix = "data:image/png;base64,"

// OutputEvent is one unit of run output.
type OutputEvent struct {
	Kind  OutputKind `json:"kind" yaml:"kind"`
	Value string     `json:"value" yaml:"value"`
}

// Text returns a text event.
func Text(value string) OutputEvent {
	return OutputEvent{Kind: OutputText, Value: value}
}

// Image returns an image event for a PNG data URI.
func Image(dataURI string) OutputEvent {
	return OutputEvent{Kind: OutputImage, Value: dataURI}
}

// Run is the record surfaced to presentation layers.
type Run struct {
	ID      string        `json:"id" yaml:"id"`
	Outputs []OutputEvent `json:"outputs" yaml:"outputs"`
	Status  Status        `json:"status" yaml:"status"`
}

// Clone returns a copy that shares no memory with r.
func (r Run) Clone() Run {
	out := r
	out.Outputs = make([]OutputEvent, len(r.Outputs))
	copy(out.Outputs, r.Outputs)
	return out
}
