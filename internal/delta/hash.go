package delta

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Aman-CERP/shelf/internal/manifest"
	"github.com/Aman-CERP/shelf/internal/scanner"
)

// FileStamp is the (filename, mtime) pair that feeds a folder digest.
type FileStamp struct {
	Name    string
	ModTime time.Time
}

// FolderHash digests a folder as sha256 over "name:mtime" pairs sorted by
// name and joined with "|". Input order does not matter.
func FolderHash(stamps []FileStamp) string {
	sorted := make([]FileStamp, len(stamps))
	copy(sorted, stamps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	parts := make([]string, len(sorted))
	for i, s := range sorted {
		parts[i] = s.Name + ":" + FormatMTime(s.ModTime)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// FolderHashOf digests the books of a scanned folder.
func FolderHashOf(folder *scanner.Folder) string {
	stamps := make([]FileStamp, len(folder.Files))
	for i, f := range folder.Files {
		stamps[i] = FileStamp{Name: f.Name, ModTime: f.ModTime}
	}
	return FolderHash(stamps)
}

// FormatMTime renders a modification time as Unix seconds, with a fractional
// part only when the time has sub-second precision.
func FormatMTime(t time.Time) string {
	sec := t.Unix()
	nsec := t.Nanosecond()
	if nsec == 0 {
		return fmt.Sprintf("%d", sec)
	}
	frac := strings.TrimRight(fmt.Sprintf("%09d", nsec), "0")
	return fmt.Sprintf("%d.%s", sec, frac)
}

// TopicChanged reports whether a topic needs reindexing at folder
// granularity: no stored digest, or a digest that differs from the folder's.
func TopicChanged(topic *manifest.Topic, folder *scanner.Folder) bool {
	if topic == nil || topic.ContentHash == "" {
		return true
	}
	if folder == nil {
		return true
	}
	return topic.ContentHash != FolderHashOf(folder)
}
