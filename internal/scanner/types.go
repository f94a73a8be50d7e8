// Package scanner walks a library directory and classifies every folder as a
// leaf topic (books, no subfolders), a parent (subfolders, no books), empty,
// or invalid (both). Leaves whose paths slug to the same topic id are
// classified as duplicates.
package scanner

import (
	"path/filepath"
	"strings"
	"time"
)

// Format is the book file format, chosen by extension.
type Format string

const (
	// FormatPDF is a PDF document.
	FormatPDF Format = "pdf"
	// FormatEPUB is an EPUB container.
	FormatEPUB Format = "epub"
	// FormatHTML is a single HTML document.
	FormatHTML Format = "html"
	// FormatText is plain text or markdown.
	FormatText Format = "text"
)

// formatMap maps file extensions to book formats.
var formatMap = map[string]Format{
	".pdf":      FormatPDF,
	".epub":     FormatEPUB,
	".html":     FormatHTML,
	".htm":      FormatHTML,
	".xhtml":    FormatHTML,
	".txt":      FormatText,
	".md":       FormatText,
	".markdown": FormatText,
}

// FormatOf returns the book format of path, if it is a book at all.
func FormatOf(path string) (Format, bool) {
	f, ok := formatMap[strings.ToLower(filepath.Ext(path))]
	return f, ok
}

// SupportedExtensions lists every recognised extension.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(formatMap))
	for ext := range formatMap {
		exts = append(exts, ext)
	}
	return exts
}

// Kind classifies a folder under the XOR rule.
type Kind string

const (
	KindLeaf    Kind = "leaf"
	KindParent  Kind = "parent"
	KindEmpty   Kind = "empty"
	KindInvalid Kind = "invalid"
	// KindDuplicate is a leaf sharing its topic id with another leaf.
	KindDuplicate Kind = "duplicate"
)

// File is one book found on disk.
type File struct {
	Name    string    // Base name
	Path    string    // Absolute path
	Size    int64     // Bytes
	ModTime time.Time // Last modification time
	Format  Format
}

// Folder is one directory below the library root.
type Folder struct {
	RelPath string // Slash separated, relative to the root
	AbsPath string
	TopicID string
	Files   []File   // Books directly inside, sorted by name
	Subdirs []string // Non-hidden child directory names, sorted
	Kind    Kind
}

// File returns the book with the given base name, or nil.
func (f *Folder) File(name string) *File {
	for i := range f.Files {
		if f.Files[i].Name == name {
			return &f.Files[i]
		}
	}
	return nil
}

// Snapshot is the state of the library at scan time.
type Snapshot struct {
	Root    string
	Folders []*Folder // Sorted by RelPath

	// LooseFiles are books sitting directly in the root, outside any topic.
	LooseFiles []File
}

// Leaves returns folders that form topics.
func (s *Snapshot) Leaves() []*Folder {
	var out []*Folder
	for _, f := range s.Folders {
		if f.Kind == KindLeaf {
			out = append(out, f)
		}
	}
	return out
}

// Violations returns folders that hold both books and subfolders.
func (s *Snapshot) Violations() []*Folder {
	var out []*Folder
	for _, f := range s.Folders {
		if f.Kind == KindInvalid {
			out = append(out, f)
		}
	}
	return out
}

// Duplicates groups the folders of each topic id claimed by more than one
// leaf, keyed by id.
func (s *Snapshot) Duplicates() map[string][]*Folder {
	out := map[string][]*Folder{}
	for _, f := range s.Folders {
		if f.Kind == KindDuplicate {
			out[f.TopicID] = append(out[f.TopicID], f)
		}
	}
	return out
}

// Folder returns the folder for a topic id, or nil.
func (s *Snapshot) Folder(topicID string) *Folder {
	for _, f := range s.Folders {
		if f.TopicID == topicID {
			return f
		}
	}
	return nil
}

// BookCount counts books in leaf folders.
func (s *Snapshot) BookCount() int {
	n := 0
	for _, f := range s.Leaves() {
		n += len(f.Files)
	}
	return n
}

// Options configures a scan.
type Options struct {
	// Extensions narrows the accepted book extensions (empty = all supported).
	Extensions []string

	// DataDir is the name of the data directory to skip (default ".shelf").
	DataDir string

	// ExcludePatterns are folder patterns to skip, e.g. "_inbox/**".
	ExcludePatterns []string
}

// DefaultDataDir is skipped when Options.DataDir is empty.
const DefaultDataDir = ".shelf"
