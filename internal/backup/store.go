// Package backup implements the local-first durability tier: every analysis
// record is written to disk before any upload is attempted, failed uploads
// move to a quarantine directory, and a retry pass drains them later. The
// database can be down for days without losing a record.
package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"sitegrader/internal/logging"
)

const (
	failedDir  = "failed-uploads"
	corruptDir = "corrupt"

	// DefaultSubdir holds records when the caller does not pick one.
	DefaultSubdir = "prospects"

	statusPending = "pending"
	statusSuccess = "success"
	statusFailed  = "failed"

	timestampLayout = "20060102-150405.000"
)

// IOError reports an unreadable or unwritable backup filesystem. Callers
// can distinguish it from record-level problems, which are never fatal.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("backup %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Entry is the on-disk envelope around one backed-up record.
type Entry struct {
	CompanyName  string          `json:"company_name"`
	Data         json.RawMessage `json:"data"`
	UploadedToDB bool            `json:"uploaded_to_db"`
	UploadStatus string          `json:"upload_status"`
	UploadError  string          `json:"upload_error,omitempty"`
	SavedAt      time.Time       `json:"saved_at"`
	UploadedAt   *time.Time      `json:"uploaded_at,omitempty"`
	FailedAt     *time.Time      `json:"failed_at,omitempty"`
}

// Stats summarizes both tiers of one engine's backup directory.
type Stats struct {
	Total        int        `json:"total"`
	Uploaded     int        `json:"uploaded"`
	Pending      int        `json:"pending"`
	Failed       int        `json:"failed"`
	SuccessRate  float64    `json:"success_rate"`
	StorageBytes int64      `json:"storage_bytes"`
	OldestFailed *time.Time `json:"oldest_failed,omitempty"`
}

// RetryReport summarizes one retry pass over failed-uploads.
type RetryReport struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Corrupt   int `json:"corrupt"`
}

// UploadFunc uploads one record's data. A nil error acks durable storage.
type UploadFunc func(data json.RawMessage) error

// Store is the backup store for one engine. Primary records live under
// <root>/<engine>/<subdir>/; failures quarantine under
// <root>/<engine>/failed-uploads/. A file never sits in both at once.
type Store struct {
	root   string
	engine string
	log    *zap.SugaredLogger
}

// NewStore creates the backup store rooted at root for the given engine and
// migrates any records from the legacy flat layout.
func NewStore(root, engine string) (*Store, error) {
	s := &Store{
		root:   root,
		engine: engine,
		log:    logging.Get(logging.CategoryBackup),
	}
	for _, dir := range []string{s.subdirPath(DefaultSubdir), s.failedPath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &IOError{Op: "mkdir", Path: dir, Err: err}
		}
	}
	s.migrateLegacyLayout()
	return s, nil
}

func (s *Store) enginePath() string            { return filepath.Join(s.root, s.engine) }
func (s *Store) subdirPath(subdir string) string { return filepath.Join(s.root, s.engine, subdir) }
func (s *Store) failedPath() string            { return filepath.Join(s.root, s.engine, failedDir) }
func (s *Store) corruptPath() string           { return filepath.Join(s.root, s.engine, corruptDir) }

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slug derives the deterministic filename stem from a company name:
// lower-case, runs of non-alphanumerics collapsed to one dash, leading and
// trailing dashes stripped.
func Slug(name string) string {
	slug := slugPattern.ReplaceAllString(strings.ToLower(name), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "unnamed"
	}
	return slug
}

// Save writes a record under subdir as pending. Returns the file path. An
// empty subdir selects DefaultSubdir. Fails only when the filesystem is
// unwritable.
func (s *Store) Save(companyName, subdir string, data any) (string, error) {
	if subdir == "" {
		subdir = DefaultSubdir
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to encode backup record: %w", err)
	}

	entry := Entry{
		CompanyName:  companyName,
		Data:         raw,
		UploadedToDB: false,
		UploadStatus: statusPending,
		SavedAt:      time.Now().UTC(),
	}

	dir := s.subdirPath(subdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &IOError{Op: "mkdir", Path: dir, Err: err}
	}

	name := fmt.Sprintf("%s-%s.json", Slug(companyName), entry.SavedAt.Format(timestampLayout))
	path := filepath.Join(dir, name)
	if err := s.writeEntry(path, &entry); err != nil {
		return "", err
	}

	s.log.Infow("backup saved", "path", path, "company", companyName)
	return path, nil
}

// MarkUploaded rewrites a record in place as successfully uploaded.
func (s *Store) MarkUploaded(path string) error {
	entry, err := s.readEntry(path)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	entry.UploadedToDB = true
	entry.UploadStatus = statusSuccess
	entry.UploadError = ""
	entry.UploadedAt = &now
	entry.FailedAt = nil
	return s.writeEntry(path, entry)
}

// MarkFailed records the upload error and moves the file into
// failed-uploads. Returns the file's new path.
func (s *Store) MarkFailed(path string, uploadErr error) (string, error) {
	entry, err := s.readEntry(path)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	entry.UploadedToDB = false
	entry.UploadStatus = statusFailed
	entry.UploadError = uploadErr.Error()
	entry.FailedAt = &now

	if err := s.writeEntry(path, entry); err != nil {
		return "", err
	}

	dest := filepath.Join(s.failedPath(), filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		return "", &IOError{Op: "rename", Path: path, Err: err}
	}
	s.log.Warnw("backup quarantined after failed upload", "path", dest, "error", uploadErr)
	return dest, nil
}

// RetryFailed attempts to upload every quarantined record, sequentially in
// filesystem-enumeration order so upstream rate limits stay predictable.
// Successes move back to the primary directory before being marked
// uploaded; failures stay in place with the error refreshed. Unparseable
// files move to corrupt/ instead of blocking the pass.
func (s *Store) RetryFailed(upload UploadFunc) (RetryReport, error) {
	report := RetryReport{}

	names, err := listJSON(s.failedPath())
	if err != nil {
		return report, &IOError{Op: "readdir", Path: s.failedPath(), Err: err}
	}

	for _, name := range names {
		path := filepath.Join(s.failedPath(), name)
		entry, err := s.readEntry(path)
		if err != nil {
			report.Corrupt++
			s.quarantineCorrupt(path)
			continue
		}
		report.Attempted++

		if err := upload(entry.Data); err != nil {
			report.Failed++
			entry.UploadError = err.Error()
			now := time.Now().UTC()
			entry.FailedAt = &now
			if werr := s.writeEntry(path, entry); werr != nil {
				s.log.Errorw("failed to refresh upload error", "path", path, "error", werr)
			}
			continue
		}

		primary := filepath.Join(s.subdirPath(DefaultSubdir), name)
		if err := os.Rename(path, primary); err != nil {
			report.Failed++
			s.log.Errorw("failed to restore backup to primary", "path", path, "error", err)
			continue
		}
		if err := s.MarkUploaded(primary); err != nil {
			s.log.Errorw("failed to mark restored backup uploaded", "path", primary, "error", err)
		}
		report.Succeeded++
	}

	s.log.Infow("retry pass complete", "attempted", report.Attempted,
		"succeeded", report.Succeeded, "failed", report.Failed, "corrupt", report.Corrupt)
	return report, nil
}

// ArchiveOldBackups deletes uploaded primary records older than daysOld.
// Quarantined and pending records are never touched. Each file is re-read
// immediately before deletion; any doubt about a record skips it.
func (s *Store) ArchiveOldBackups(daysOld int) (int, error) {
	if daysOld <= 0 {
		return 0, fmt.Errorf("daysOld must be positive, got %d", daysOld)
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -daysOld)

	removed := 0
	err := s.walkPrimary(func(path string) {
		entry, err := s.readEntry(path)
		if err != nil {
			return
		}
		if !entry.UploadedToDB || entry.UploadedAt == nil || entry.UploadedAt.After(cutoff) {
			return
		}
		// Re-check right before the delete; a concurrent retry pass may have
		// rewritten the file since the scan.
		confirm, err := s.readEntry(path)
		if err != nil || !confirm.UploadedToDB || confirm.UploadedAt == nil || confirm.UploadedAt.After(cutoff) {
			return
		}
		if err := os.Remove(path); err != nil {
			s.log.Warnw("failed to archive backup", "path", path, "error", err)
			return
		}
		removed++
	})
	if err != nil {
		return removed, err
	}

	s.log.Infow("archive pass complete", "removed", removed, "days_old", daysOld)
	return removed, nil
}

// Stats scans both tiers once.
func (s *Store) Stats() (Stats, error) {
	stats := Stats{}

	collect := func(path string, quarantined bool) {
		info, err := os.Stat(path)
		if err == nil {
			stats.StorageBytes += info.Size()
		}
		entry, err := s.readEntry(path)
		if err != nil {
			return
		}
		stats.Total++
		switch {
		case entry.UploadedToDB:
			stats.Uploaded++
		case quarantined || entry.UploadStatus == statusFailed:
			stats.Failed++
			at := entry.SavedAt
			if entry.FailedAt != nil {
				at = *entry.FailedAt
			}
			if stats.OldestFailed == nil || at.Before(*stats.OldestFailed) {
				stats.OldestFailed = &at
			}
		default:
			stats.Pending++
		}
	}

	if err := s.walkPrimary(func(path string) { collect(path, false) }); err != nil {
		return stats, err
	}
	names, err := listJSON(s.failedPath())
	if err != nil {
		return stats, &IOError{Op: "readdir", Path: s.failedPath(), Err: err}
	}
	for _, name := range names {
		collect(filepath.Join(s.failedPath(), name), true)
	}

	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Uploaded) / float64(stats.Total)
	}
	return stats, nil
}

// walkPrimary visits every record file in every primary subdirectory.
func (s *Store) walkPrimary(visit func(path string)) error {
	entries, err := os.ReadDir(s.enginePath())
	if err != nil {
		return &IOError{Op: "readdir", Path: s.enginePath(), Err: err}
	}
	for _, dir := range entries {
		if !dir.IsDir() || dir.Name() == failedDir || dir.Name() == corruptDir {
			continue
		}
		names, err := listJSON(s.subdirPath(dir.Name()))
		if err != nil {
			return &IOError{Op: "readdir", Path: s.subdirPath(dir.Name()), Err: err}
		}
		for _, name := range names {
			visit(filepath.Join(s.subdirPath(dir.Name()), name))
		}
	}
	return nil
}

// migrateLegacyLayout moves record files sitting directly under the engine
// directory into the default subdirectory. Best effort.
func (s *Store) migrateLegacyLayout() {
	names, err := listJSON(s.enginePath())
	if err != nil {
		return
	}
	for _, name := range names {
		src := filepath.Join(s.enginePath(), name)
		dst := filepath.Join(s.subdirPath(DefaultSubdir), name)
		if err := os.Rename(src, dst); err != nil {
			s.log.Warnw("failed to migrate legacy backup", "path", src, "error", err)
			continue
		}
		s.log.Infow("migrated legacy backup", "from", src, "to", dst)
	}
}

func (s *Store) quarantineCorrupt(path string) {
	if err := os.MkdirAll(s.corruptPath(), 0o755); err != nil {
		return
	}
	dest := filepath.Join(s.corruptPath(), filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		s.log.Errorw("failed to quarantine corrupt backup", "path", path, "error", err)
		return
	}
	s.log.Warnw("corrupt backup quarantined", "path", dest)
}

func (s *Store) readEntry(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &IOError{Op: "read", Path: path, Err: err}
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to parse backup record %s: %w", path, err)
	}
	return &entry, nil
}

// writeEntry writes the record atomically: temp file in the same directory,
// then rename.
func (s *Store) writeEntry(path string, entry *Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode backup record: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return &IOError{Op: "create", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &IOError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &IOError{Op: "close", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &IOError{Op: "rename", Path: path, Err: err}
	}
	return nil
}

func listJSON(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
