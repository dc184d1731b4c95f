package snapshot

// Changed reports whether the externally visible state of a process differs
// between two snapshots. It is pure and total: nil snapshots are valid input,
// and two nil (or entirely empty) snapshots compare as unchanged.
//
// A difference in any of the following counts as a change:
//   - window title
//   - resident memory size
//   - handle count
//   - number of windows
//   - number of media sessions
//   - title, artist or album of a media session present in both lists
func Changed(a, b *Snapshot) bool {
	if a == nil && b == nil {
		return false
	}
	if a == nil || b == nil {
		return true
	}

	if a.WindowTitle != b.WindowTitle ||
		residentSize(a) != residentSize(b) ||
		a.HandleCount != b.HandleCount ||
		len(a.Windows) != len(b.Windows) {
		return true
	}

	if len(a.MediaSessions) != len(b.MediaSessions) {
		return true
	}
	for i := range a.MediaSessions {
		if mediaChanged(&a.MediaSessions[i], &b.MediaSessions[i]) {
			return true
		}
	}

	return false
}

func residentSize(s *Snapshot) uint64 {
	if s.Memory == nil {
		return 0
	}
	return s.Memory.RSS
}

func mediaChanged(a, b *MediaSession) bool {
	return a.Title != b.Title ||
		a.Artist != b.Artist ||
		a.Album != b.Album
}
