// Package catalog maintains the manifest records that describe the library:
// it checks the folder layout, regenerates book metadata from the files and
// upgrades legacy manifests.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	shelferrors "github.com/Aman-CERP/shelf/internal/errors"
	"github.com/Aman-CERP/shelf/internal/scanner"
)

// Violation is a folder holding both books and subfolders.
type Violation struct {
	Path       string   `json:"path"`
	Books      []string `json:"books"`
	Subfolders []string `json:"subfolders"`
}

// Duplicate is a topic id claimed by more than one leaf folder.
type Duplicate struct {
	TopicID string   `json:"topic_id"`
	Paths   []string `json:"paths"`
}

// Layout summarises the folder classification of a library.
type Layout struct {
	Root       string      `json:"root"`
	Leaves     int         `json:"leaves"`
	Parents    int         `json:"parents"`
	Empty      int         `json:"empty"`
	Books      int         `json:"books"`
	LooseFiles []string    `json:"loose_files,omitempty"`
	Violations []Violation `json:"violations"`
	Duplicates []Duplicate `json:"duplicates"`
}

// OK reports whether every folder obeys the XOR rule and every topic id
// names one folder.
func (l *Layout) OK() bool {
	return len(l.Violations) == 0 && len(l.Duplicates) == 0
}

// Err returns a TopicLayout error naming the offending folders, or nil.
func (l *Layout) Err() error {
	if len(l.Violations) > 0 {
		paths := make([]string, 0, len(l.Violations))
		for _, v := range l.Violations {
			paths = append(paths, v.Path)
		}
		return shelferrors.New(shelferrors.ErrCodeTopicLayout,
			fmt.Sprintf("%d folder(s) hold both books and subfolders", len(paths)), nil).
			WithDetail("folders", strings.Join(paths, ", ")).
			WithSuggestion("move the books into a subfolder or the subfolders out, then retry")
	}
	if len(l.Duplicates) > 0 {
		var paths []string
		for _, d := range l.Duplicates {
			paths = append(paths, strings.Join(d.Paths, " = "))
		}
		return shelferrors.New(shelferrors.ErrCodeTopicLayout,
			fmt.Sprintf("%d topic id(s) name more than one folder", len(l.Duplicates)), nil).
			WithDetail("folders", strings.Join(paths, ", ")).
			WithSuggestion("rename one folder of each pair, then retry")
	}
	return nil
}

// Validate scans root and classifies every folder under the XOR rule.
func Validate(ctx context.Context, root string, opts scanner.Options) (*Layout, error) {
	snap, err := scanner.Scan(ctx, root, opts)
	if err != nil {
		return nil, shelferrors.New(shelferrors.ErrCodeLibraryMissing,
			fmt.Sprintf("failed to scan library %s", root), err)
	}
	return LayoutOf(snap), nil
}

// LayoutOf classifies the folders of an existing snapshot.
func LayoutOf(snap *scanner.Snapshot) *Layout {
	l := &Layout{Root: snap.Root, Violations: []Violation{}, Duplicates: []Duplicate{}}
	for _, f := range snap.Folders {
		switch f.Kind {
		case scanner.KindLeaf:
			l.Leaves++
			l.Books += len(f.Files)
		case scanner.KindParent:
			l.Parents++
		case scanner.KindEmpty:
			l.Empty++
		case scanner.KindInvalid:
			v := Violation{Path: f.RelPath, Subfolders: f.Subdirs}
			for _, file := range f.Files {
				v.Books = append(v.Books, file.Name)
			}
			l.Violations = append(l.Violations, v)
		case scanner.KindDuplicate:
			l.Books += len(f.Files)
		}
	}
	for id, group := range snap.Duplicates() {
		d := Duplicate{TopicID: id}
		for _, f := range group {
			d.Paths = append(d.Paths, f.RelPath)
		}
		l.Duplicates = append(l.Duplicates, d)
	}
	sort.Slice(l.Duplicates, func(i, j int) bool { return l.Duplicates[i].TopicID < l.Duplicates[j].TopicID })
	for _, f := range snap.LooseFiles {
		l.LooseFiles = append(l.LooseFiles, f.Name)
	}
	return l
}
