package tasks

// Aggregate recomputes derived counters from a full store snapshot. Nothing
// caches these values, so they cannot drift from the task set.
func Aggregate(s *Store) Stats {
	var out Stats
	var speedSum int64
	for _, t := range s.List(nil) {
		out.Total++
		out.TotalDownloaded += t.DownloadedSize
		switch t.Status {
		case StatusPending:
			out.Pending++
		case StatusDownloading:
			out.Active++
			speedSum += t.Speed
		case StatusPaused:
			out.Paused++
		case StatusCompleted:
			out.Completed++
		case StatusFailed:
			out.Failed++
		case StatusCancelled:
			out.Cancelled++
		}
	}
	if out.Active > 0 {
		out.AverageSpeed = speedSum / int64(out.Active)
	}
	return out
}
