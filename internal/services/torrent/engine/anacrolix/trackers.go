package anacrolix

import "strings"

var defaultTrackers = []string{
	"udp://tracker.opentrackr.org:1337/announce",
	"udp://open.stealth.si:80/announce",
	"udp://tracker.torrent.eu.org:451/announce",
	"udp://explodie.org:6969/announce",
}

// appendTrackerTiers adds every extra tracker in a tier of its own after the
// existing tiers, skipping URLs that are already announced.
func appendTrackerTiers(tiers [][]string, extra ...[]string) [][]string {
	seen := make(map[string]bool)
	for _, tier := range tiers {
		for _, u := range tier {
			seen[u] = true
		}
	}
	out := append([][]string(nil), tiers...)
	for _, list := range extra {
		for _, u := range list {
			u = strings.TrimSpace(u)
			if u == "" || seen[u] {
				continue
			}
			seen[u] = true
			out = append(out, []string{u})
		}
	}
	return out
}
