package domain

// RetentionPolicy decides what happens to downloaded files when the torrent is
// removed at shutdown.
type RetentionPolicy struct {
	KeepComplete   bool
	KeepIncomplete bool
	KeepFiles      bool
}

// RemovalPlan is the outcome of a retention decision. DeleteAll asks the
// engine to delete every file; Files lists indexes to unlink individually.
type RemovalPlan struct {
	DeleteAll bool
	Files     []int
}

func (p RemovalPlan) Empty() bool {
	return !p.DeleteAll && len(p.Files) == 0
}

// Plan keeps everything unless the policy and the torrent state clearly allow
// removal. progress is indexed like files and holds downloaded bytes.
func (p RetentionPolicy) Plan(state TorrentState, files []FileEntry, progress []int64) RemovalPlan {
	if p.KeepFiles || state.Checking() || len(files) == 0 {
		return RemovalPlan{}
	}
	if !p.KeepComplete && !p.KeepIncomplete {
		return RemovalPlan{DeleteAll: true}
	}

	var plan RemovalPlan
	for i, f := range files {
		var downloaded int64
		if i < len(progress) {
			downloaded = progress[i]
		}
		completed := downloaded == f.Size
		if (!p.KeepComplete || !completed) && (!p.KeepIncomplete || completed) {
			plan.Files = append(plan.Files, f.Index)
		}
	}
	return plan
}
