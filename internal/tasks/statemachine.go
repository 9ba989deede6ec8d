package tasks

// CanTransition reports whether from -> to is a permitted status change.
//
// pending may be cancelled locally before it was ever dispatched; failed may
// only leave via retry (back to downloading). completed and cancelled are
// terminal.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	switch from {
	case StatusPending:
		return to == StatusDownloading || to == StatusCancelled
	case StatusDownloading:
		return to == StatusCompleted || to == StatusFailed || to == StatusPaused || to == StatusCancelled
	case StatusPaused:
		return to == StatusDownloading || to == StatusCancelled
	case StatusFailed:
		return to == StatusDownloading
	default:
		return false
	}
}
