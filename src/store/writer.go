package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/camvigil/camvigil/src/pkg/migration"
)

const writerPragmas = "_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

// Writer owns the read-write connection. It is used by a single goroutine in
// practice; calls are serialized anyway. Every mutation is best-effort: a
// failure is logged and the recorder keeps going.
type Writer struct {
	db     *sql.DB
	dbPath string
	logger logrus.FieldLogger
	mu     sync.Mutex
}

// OpenWriter migrates the database at dbPath to the latest schema and opens
// the writer connection.
func OpenWriter(dbPath string, logger logrus.FieldLogger) (*Writer, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	if err := migrate(dbPath); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", "file:"+filepath.ToSlash(dbPath)+"?"+writerPragmas)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// pragmas are per connection, one connection keeps them consistent
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &Writer{
		db:     db,
		dbPath: dbPath,
		logger: logger.WithField("db_path", dbPath),
	}, nil
}

func migrate(dbPath string) error {
	migrator, err := migration.NewMigrator(&migration.MigrationConfig{
		DBPath: dbPath,
		Schema: ArchiveDatabaseSchema,
	})
	if err != nil {
		return err
	}
	result, err := migrator.Run()
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	if result.BackupPath != "" {
		logrus.WithField("backup_path", result.BackupPath).Debug("database backup created")
	}
	return nil
}

func (w *Writer) Path() string {
	return w.dbPath
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.db.Close()
}

// EnsureCamera upserts a camera by its main URL.
func (w *Writer) EnsureCamera(mainURL, subURL, name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.db.Exec(`INSERT INTO cameras (name, main_url, sub_url) VALUES (?, ?, ?)
		ON CONFLICT(main_url) DO UPDATE SET name = excluded.name, sub_url = excluded.sub_url`,
		name, mainURL, subURL)
	if err != nil {
		w.logger.WithError(err).WithField("camera", name).Error("failed to upsert camera")
	}
}

// BeginSession records a recording session. An existing row with the same id
// is overwritten in place so its segments survive.
func (w *Writer) BeginSession(id, archiveDir string, segmentSec int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.db.Exec(`INSERT INTO sessions (id, started_at, archive_dir, segment_sec)
		VALUES (?, strftime('%s', 'now'), ?, ?)
		ON CONFLICT(id) DO UPDATE SET started_at = excluded.started_at,
			archive_dir = excluded.archive_dir, segment_sec = excluded.segment_sec`,
		id, archiveDir, segmentSec)
	if err != nil {
		w.logger.WithError(err).WithField("session_id", id).Error("failed to begin session")
	}
}

func (w *Writer) cameraIDByURL(url string) sql.NullInt64 {
	var id sql.NullInt64
	err := w.db.QueryRow("SELECT id FROM cameras WHERE main_url = ?", url).Scan(&id)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		w.logger.WithError(err).Warn("failed to resolve camera id")
	}
	return id
}

// AddSegmentOpened inserts an Open segment. A row with the same path is left
// untouched.
func (w *Writer) AddSegmentOpened(sessionID, cameraURL, path string, startNs int64, video Video) {
	w.mu.Lock()
	defer w.mu.Unlock()
	camID := w.cameraIDByURL(cameraURL)
	_, err := w.db.Exec(`INSERT OR IGNORE INTO segments
		(session_id, camera_id, camera_url, file_path, start_utc_ns, status, video_codec, width, height)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, camID, cameraURL, path, startNs, StatusOpen,
		nullString(video.Codec), nullInt(video.Width), nullInt(video.Height))
	if err != nil {
		w.logger.WithError(err).WithField("path", path).Error("failed to add opened segment")
	}
}

// FinalizeSegmentByPath closes a segment. The size is taken from the file as
// it is now, 0 when it is gone.
func (w *Writer) FinalizeSegmentByPath(path string, endNs, durationMs int64) {
	var size int64
	if fi, err := os.Stat(path); err == nil {
		size = fi.Size()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	res, err := w.db.Exec(`UPDATE segments SET end_utc_ns = ?, duration_ms = ?, size_bytes = ?, status = ?
		WHERE file_path = ?`, nullInt64(endNs), nullInt64(durationMs), size, StatusClosed, path)
	if err != nil {
		w.logger.WithError(err).WithField("path", path).Error("failed to finalize segment")
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		w.logger.WithField("path", path).Warn("finalized segment has no row")
	}
}

// MarkError records that writing path failed. The row keeps its state; the
// failure only goes to the log.
func (w *Writer) MarkError(path, message string) {
	w.logger.WithFields(logrus.Fields{
		"path":  path,
		"error": message,
	}).Error("segment write failed")
}

// ListOpenSegments returns segments that were never finalized, oldest first.
func (w *Writer) ListOpenSegments() ([]OpenSegment, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	rows, err := w.db.Query(`SELECT id, COALESCE(session_id, ''), COALESCE(camera_url, ''), file_path, start_utc_ns
		FROM segments WHERE status = ? ORDER BY start_utc_ns`, StatusOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to list open segments: %w", err)
	}
	defer rows.Close()
	var segs []OpenSegment
	for rows.Next() {
		var s OpenSegment
		if err := rows.Scan(&s.ID, &s.SessionID, &s.CameraURL, &s.Path, &s.StartNs); err != nil {
			return nil, fmt.Errorf("failed to scan open segment: %w", err)
		}
		segs = append(segs, s)
	}
	return segs, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v > 0}
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v > 0}
}
