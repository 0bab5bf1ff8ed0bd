package types

// IndexStatus is the lifecycle state of a coordinator run.
type IndexStatus string

const (
	StatusIdle     IndexStatus = "idle"
	StatusIndexing IndexStatus = "indexing"
	StatusReady    IndexStatus = "ready"
	StatusFailed   IndexStatus = "failed"
)

// IndexProgress is a snapshot published by a coordinator.
type IndexProgress struct {
	Kind           SourceKind
	Status         IndexStatus
	ProcessedFiles int
	TotalFiles     int
	SkippedFiles   int
	RemovedFiles   int
	Segments       int
	Error          string
}

// Done reports whether the run reached a terminal state.
func (p IndexProgress) Done() bool {
	return p.Status == StatusReady || p.Status == StatusFailed
}
