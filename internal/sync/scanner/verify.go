package scanner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/notPlancha/CanvasSync/internal/sync/index"
)

const hashPrefix = "hash:"

// Verify compares recorded entries against the files on disk. A checksum
// is only compared when the file was hashed and the entry's fingerprint
// carries an MD5.
func Verify(entries index.StateList, local map[string]LocalFile) DiscrepancyList {
	var out DiscrepancyList
	recorded := make(map[string]bool, len(entries))

	for _, e := range entries {
		recorded[e.LocalPath] = true
		file, ok := local[e.LocalPath]
		switch {
		case !ok:
			out = append(out, Discrepancy{Path: e.LocalPath, Kind: DiscrepancyMissing})
		case file.Size != e.Size:
			out = append(out, Discrepancy{Path: e.LocalPath, Kind: DiscrepancySize,
				Detail: fmt.Sprintf("recorded %d bytes, found %d", e.Size, file.Size)})
		case file.Hash != "" && isMD5Fingerprint(e.Fingerprint) && !strings.EqualFold(strings.TrimPrefix(e.Fingerprint, hashPrefix), file.Hash):
			out = append(out, Discrepancy{Path: e.LocalPath, Kind: DiscrepancyChecksum,
				Detail: "content differs from the downloaded version"})
		}
	}
	for rel := range local {
		if !recorded[rel] {
			out = append(out, Discrepancy{Path: rel, Kind: DiscrepancyUntracked})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

func isMD5Fingerprint(fp string) bool {
	return strings.HasPrefix(fp, hashPrefix) && len(fp) == len(hashPrefix)+32
}
