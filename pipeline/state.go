// Package pipeline runs one market through directory loading, change
// detection, extraction, merge and publication.
package pipeline

// State is the position of a market run in its lifecycle.
type State string

const (
	StateStart           State = "START"
	StateDirectoryLoaded State = "DIRECTORY_LOADED"
	StateClassified      State = "CLASSIFIED"
	StateNoChanges       State = "NO_CHANGES"
	StateExtracting      State = "EXTRACTING"
	StateMerged          State = "MERGED"
	StatePublished       State = "PUBLISHED"
	StateAborted         State = "ABORTED"
)

// Terminal reports whether a run in s has finished.
func (s State) Terminal() bool {
	switch s {
	case StateNoChanges, StatePublished, StateAborted:
		return true
	}
	return false
}
