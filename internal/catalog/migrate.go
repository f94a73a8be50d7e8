package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	shelferrors "github.com/Aman-CERP/shelf/internal/errors"
	"github.com/Aman-CERP/shelf/internal/extract"
	"github.com/Aman-CERP/shelf/internal/manifest"
	"github.com/Aman-CERP/shelf/internal/scanner"
	"github.com/Aman-CERP/shelf/internal/store"
)

// BackupSuffix is appended to a migrated legacy file.
const BackupSuffix = ".v1.backup"

// LegacyLocations are searched, relative to the library root, when no
// source is given.
var LegacyLocations = []string{
	"metadata.json",
	filepath.Join("books", "metadata.json"),
	".library-index.json",
}

// MigrateOptions configures a migration.
type MigrateOptions struct {
	// Source is the legacy file. Empty searches LegacyLocations and the
	// manifest of the data directory.
	Source string

	Scan   scanner.Options
	DryRun bool

	// Force replaces an existing schema 2 manifest.
	Force bool
}

// MigrateReport summarises a migration.
type MigrateReport struct {
	Source       string   `json:"source"`
	Backup       string   `json:"backup,omitempty"`
	Target       string   `json:"target"`
	DryRun       bool     `json:"dry_run"`
	Topics       int      `json:"topics"`
	Books        int      `json:"books"`
	Parents      []string `json:"parents,omitempty"`
	Missing      []string `json:"missing,omitempty"`
	AddedBooks   []string `json:"added_books,omitempty"`
	DroppedBooks []string `json:"dropped_books,omitempty"`
}

// Migrator upgrades legacy manifests into the manifest store of a data
// directory.
type Migrator struct {
	dataDir string
	store   *manifest.Store
}

// NewMigrator returns a migrator writing to dataDir.
func NewMigrator(dataDir string) *Migrator {
	return &Migrator{dataDir: dataDir, store: manifest.NewStore(dataDir)}
}

// Migrate converts the legacy manifest of the library at root to schema 2.
// It refuses while any folder breaks the XOR rule. Topic timestamps survive
// only for topics that already have an index in the data directory, so the
// next index run embeds everything else.
func (mg *Migrator) Migrate(ctx context.Context, root string, opts MigrateOptions) (*manifest.Manifest, *MigrateReport, error) {
	source, err := mg.findSource(root, opts.Source)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, nil, shelferrors.IOError(fmt.Sprintf("failed to read %s", source), err)
	}
	var legacy legacyManifest
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, nil, shelferrors.New(shelferrors.ErrCodeManifestCorrupt,
			fmt.Sprintf("legacy manifest %s is not valid JSON", source), err)
	}
	if !legacy.isLegacy() {
		return nil, nil, shelferrors.Newf(shelferrors.ErrCodeInvalidInput,
			"%s is already at schema %s", source, legacy.SchemaVersion)
	}

	target := mg.store.Path()
	if err := mg.checkTarget(source, target, opts.Force); err != nil {
		return nil, nil, err
	}

	snap, err := scanner.Scan(ctx, root, opts.Scan)
	if err != nil {
		return nil, nil, shelferrors.New(shelferrors.ErrCodeLibraryMissing,
			fmt.Sprintf("failed to scan library %s", root), err)
	}
	if err := LayoutOf(snap).Err(); err != nil {
		return nil, nil, err
	}

	report := &MigrateReport{Source: source, Target: target, DryRun: opts.DryRun}
	m := mg.convert(&legacy, snap, mg.topicBase(snap.Root, source), report)

	log := slog.With(slog.String("source", source))
	if opts.DryRun {
		log.Info("migrate_dry_run", slog.Int("topics", report.Topics), slog.Int("books", report.Books))
		return m, report, nil
	}

	report.Backup = source + BackupSuffix
	if err := manifest.WriteFileAtomic(report.Backup, data); err != nil {
		return nil, nil, shelferrors.IOError("failed to back up legacy manifest", err)
	}
	if samePath(source, target) {
		// The legacy document cannot be loaded by the store; the backup holds it.
		if err := os.Remove(target); err != nil {
			return nil, nil, shelferrors.IOError("failed to remove legacy manifest", err)
		}
	}
	if err := mg.store.Replace(ctx, m); err != nil {
		return nil, nil, err
	}
	if !samePath(source, target) {
		if err := os.Remove(source); err != nil {
			log.Warn("failed to remove legacy manifest", slog.String("error", err.Error()))
		}
	}

	log.Info("migrate_complete",
		slog.String("backup", report.Backup),
		slog.Int("topics", report.Topics),
		slog.Int("books", report.Books),
		slog.Int("missing_topics", len(report.Missing)))
	return m, report, nil
}

// findSource returns the legacy file to migrate.
func (mg *Migrator) findSource(root, explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", shelferrors.New(shelferrors.ErrCodeFileNotFound,
				fmt.Sprintf("legacy manifest not found: %s", explicit), err)
		}
		return explicit, nil
	}
	for _, rel := range LegacyLocations {
		candidate := filepath.Join(root, rel)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	if mg.store.Exists() {
		data, err := os.ReadFile(mg.store.Path())
		if err == nil {
			var probe legacyManifest
			if json.Unmarshal(data, &probe) == nil && probe.isLegacy() {
				return mg.store.Path(), nil
			}
		}
	}
	return "", shelferrors.New(shelferrors.ErrCodeFileNotFound, "no legacy manifest found", nil).
		WithSuggestion("run 'shelf metadata generate' to build a manifest from the library")
}

// checkTarget refuses to overwrite a populated schema 2 manifest.
func (mg *Migrator) checkTarget(source, target string, force bool) error {
	if force || samePath(source, target) || !mg.store.Exists() {
		return nil
	}
	current, err := mg.store.Load()
	if err != nil || len(current.Topics) == 0 {
		return nil
	}
	return shelferrors.Newf(shelferrors.ErrCodeInvalidInput,
		"a schema %s manifest with %d topics already exists", current.SchemaVersion, len(current.Topics)).
		WithDetail("manifest", target).
		WithSuggestion("pass --force to replace it")
}

// topicBase is the directory legacy folder paths are relative to.
func (mg *Migrator) topicBase(root, source string) string {
	dir := filepath.Dir(source)
	if samePath(dir, mg.dataDir) {
		return root
	}
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}

func (mg *Migrator) convert(legacy *legacyManifest, snap *scanner.Snapshot, base string, report *MigrateReport) *manifest.Manifest {
	m := manifest.New(snap.Root)
	m.EmbeddingModel = legacy.EmbeddingModel
	if cs := legacy.ChunkSettings; cs != nil {
		m.ChunkSettings = manifest.ChunkSettings{Size: cs.Size, Overlap: cs.Overlap, MinWords: cs.MinWords}
	}

	folders := make(map[string]*scanner.Folder, len(snap.Folders))
	for _, f := range snap.Folders {
		folders[f.RelPath] = f
	}
	exists := func(rel string) bool { return folders[rel] != nil }

	seen := map[string]bool{}
	for i := range legacy.Topics {
		lt := &legacy.Topics[i]
		rel := resolveTopicPath(snap.Root, base, lt, exists)
		folder := folders[rel]
		switch {
		case folder == nil || folder.Kind == scanner.KindEmpty:
			report.Missing = append(report.Missing, lt.ID)
			continue
		case folder.Kind == scanner.KindParent:
			report.Parents = append(report.Parents, lt.ID)
			continue
		case seen[folder.TopicID]:
			continue
		}
		seen[folder.TopicID] = true

		t := mg.convertTopic(lt, folder, report)
		m.Topics = append(m.Topics, t)
		report.Topics++
		report.Books += len(t.Books)
	}
	return m
}

func (mg *Migrator) convertTopic(lt *legacyTopic, folder *scanner.Folder, report *MigrateReport) *manifest.Topic {
	t := &manifest.Topic{
		ID:          folder.TopicID,
		Label:       lt.Label,
		Path:        folder.RelPath,
		Description: lt.Description,
		Tags:        lt.Tags,
		Books:       []*manifest.Book{},
	}
	if t.Label == "" {
		t.Label = path.Base(folder.RelPath)
	}
	indexed := store.Exists(store.Dir(mg.dataDir, t.ID))
	if indexed {
		t.LastIndexedAt = lt.LastIndexedAt.t
	}

	for _, lb := range lt.Books {
		file := folder.File(lb.Filename)
		if file == nil {
			report.DroppedBooks = append(report.DroppedBooks, folder.RelPath+"/"+lb.Filename)
			continue
		}
		if t.Book(lb.Filename) != nil {
			continue
		}
		b := &manifest.Book{
			ID:           lb.ID,
			Title:        strings.TrimSpace(lb.Title),
			Author:       strings.TrimSpace(lb.Author),
			Year:         lb.Year.year,
			Tags:         lb.Tags,
			Filename:     lb.Filename,
			Format:       string(file.Format),
			LastModified: lb.LastModified.t,
		}
		if indexed {
			b.LastIndexedAt = lb.LastIndexedAt.t
		}
		if b.ID == "" || idTaken(t, b.ID) {
			b.ID = t.BookIDFor(b.Filename)
		}
		if b.Title == "" {
			b.Title = extract.TitleFromFilename(b.Filename)
		}
		if strings.EqualFold(b.Author, "unknown") {
			b.Author = ""
		}
		t.Books = append(t.Books, b)
	}

	for _, file := range folder.Files {
		if t.Book(file.Name) != nil {
			continue
		}
		t.Books = append(t.Books, &manifest.Book{
			ID:       t.BookIDFor(file.Name),
			Title:    extract.TitleFromFilename(file.Name),
			Filename: file.Name,
			Format:   string(file.Format),
		})
		report.AddedBooks = append(report.AddedBooks, folder.RelPath+"/"+file.Name)
	}
	return t
}

// resolveTopicPath finds the folder of a legacy topic: path, then
// folder_path, then the id with underscores as separators, then the label,
// then the id itself.
func resolveTopicPath(root, base string, lt *legacyTopic, exists func(string) bool) string {
	toRel := func(p string) string {
		p = filepath.FromSlash(p)
		if !filepath.IsAbs(p) {
			p = filepath.Join(base, p)
		}
		rel, err := filepath.Rel(root, p)
		if err != nil || strings.HasPrefix(rel, "..") {
			return ""
		}
		return filepath.ToSlash(rel)
	}

	if lt.Path != "" {
		return toRel(lt.Path)
	}
	if lt.FolderPath != "" {
		return toRel(lt.FolderPath)
	}
	if strings.Contains(lt.ID, "_") {
		if rel := toRel(strings.ReplaceAll(lt.ID, "_", "/")); exists(rel) {
			return rel
		}
	}
	if lt.Label != "" {
		if rel := toRel(lt.Label); exists(rel) {
			return rel
		}
	}
	return toRel(lt.ID)
}

func idTaken(t *manifest.Topic, id string) bool {
	for _, b := range t.Books {
		if b.ID == id {
			return true
		}
	}
	return false
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return absA == absB
}
