package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Aman-CERP/shelf/internal/manifest"
)

// Scan walks root and returns the folder tree of the library. Hidden entries
// and the data directory are skipped. Unreadable entries are skipped rather
// than failing the scan.
func Scan(ctx context.Context, root string, opts Options) (*Snapshot, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to stat library root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("library root is not a directory: %s", absRoot)
	}

	if opts.DataDir == "" {
		opts.DataDir = DefaultDataDir
	}
	allowed := AllowedExtensions(opts.Extensions)

	snap := &Snapshot{Root: absRoot}
	folders := map[string]*Folder{}

	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			if d != nil && d.IsDir() && path != absRoot {
				return filepath.SkipDir
			}
			return nil
		}

		relPath, err := filepath.Rel(absRoot, path)
		if err != nil {
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		if relPath == "." {
			return nil
		}
		if isHidden(d.Name()) || relPath == opts.DataDir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		parentRel := filepath.ToSlash(filepath.Dir(relPath))

		if d.IsDir() {
			if ExcludedDir(relPath, opts.ExcludePatterns) {
				return filepath.SkipDir
			}
			folders[relPath] = &Folder{
				RelPath: relPath,
				AbsPath: path,
				TopicID: manifest.TopicID(relPath),
			}
			if parent := folders[parentRel]; parent != nil {
				parent.Subdirs = append(parent.Subdirs, d.Name())
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		format, ok := FormatOf(d.Name())
		if !ok || !allowed[strings.ToLower(filepath.Ext(d.Name()))] {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return nil
		}
		file := File{
			Name:    d.Name(),
			Path:    path,
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
			Format:  format,
		}

		if parentRel == "." {
			snap.LooseFiles = append(snap.LooseFiles, file)
			return nil
		}
		if parent := folders[parentRel]; parent != nil {
			parent.Files = append(parent.Files, file)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, f := range folders {
		sort.Slice(f.Files, func(i, j int) bool { return f.Files[i].Name < f.Files[j].Name })
		sort.Strings(f.Subdirs)
		f.Kind = classify(f)
		snap.Folders = append(snap.Folders, f)
	}
	sort.Slice(snap.Folders, func(i, j int) bool { return snap.Folders[i].RelPath < snap.Folders[j].RelPath })
	markDuplicates(snap.Folders)

	return snap, nil
}

// ScanFolder returns the folder at relPath of root, or nil when it no longer
// exists or is not a leaf.
func ScanFolder(ctx context.Context, root, relPath string, opts Options) (*Folder, error) {
	snap, err := Scan(ctx, root, opts)
	if err != nil {
		return nil, err
	}
	for _, f := range snap.Folders {
		if f.RelPath == relPath && f.Kind == KindLeaf {
			return f, nil
		}
	}
	return nil, nil
}

func classify(f *Folder) Kind {
	hasFiles := len(f.Files) > 0
	hasDirs := len(f.Subdirs) > 0
	switch {
	case hasFiles && hasDirs:
		return KindInvalid
	case hasFiles:
		return KindLeaf
	case hasDirs:
		return KindParent
	default:
		return KindEmpty
	}
}

// markDuplicates reclassifies leaves that share a topic id. Two such folders
// would otherwise write into one index.
func markDuplicates(folders []*Folder) {
	claims := map[string][]*Folder{}
	for _, f := range folders {
		if f.Kind == KindLeaf {
			claims[f.TopicID] = append(claims[f.TopicID], f)
		}
	}
	for _, group := range claims {
		if len(group) < 2 {
			continue
		}
		for _, f := range group {
			f.Kind = KindDuplicate
		}
	}
}

// AllowedExtensions normalizes exts into a lookup set. Empty means every
// supported format.
func AllowedExtensions(exts []string) map[string]bool {
	allowed := map[string]bool{}
	if len(exts) == 0 {
		for ext := range formatMap {
			allowed[ext] = true
		}
		return allowed
	}
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = true
	}
	return allowed
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// ExcludedDir matches a slash separated folder path against patterns of
// the form "name", "dir/**" and "**/name".
func ExcludedDir(relPath string, patterns []string) bool {
	for _, pattern := range patterns {
		if matchDirPattern(relPath, pattern) {
			return true
		}
	}
	return false
}

func matchDirPattern(relPath, pattern string) bool {
	pattern = filepath.ToSlash(strings.TrimSpace(pattern))
	if pattern == "" {
		return false
	}

	if strings.HasPrefix(pattern, "**/") {
		name := strings.TrimSuffix(strings.TrimPrefix(pattern, "**/"), "/**")
		for _, part := range strings.Split(relPath, "/") {
			if part == name {
				return true
			}
		}
		return false
	}

	prefix := strings.TrimSuffix(pattern, "/**")
	return relPath == prefix || strings.HasPrefix(relPath, prefix+"/")
}
