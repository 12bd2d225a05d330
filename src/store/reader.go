package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const readerPragmas = "mode=ro&_pragma=busy_timeout(5000)"

// segmentOwnerSQL matches rows of camera ? either by id or, for rows written
// before the camera row existed, by raw URL. It takes the camera id twice.
const segmentOwnerSQL = `(s.camera_id = ? OR (s.camera_id IS NULL AND s.camera_url = (SELECT main_url FROM cameras WHERE id = ?)))`

// Reader is a read-only view of the store, independent of the writer.
type Reader struct {
	db  *sql.DB
	loc *time.Location
}

// OpenReader opens dbPath read-only. Days are computed in loc, time.Local
// when nil.
func OpenReader(dbPath string, loc *time.Location) (*Reader, error) {
	if loc == nil {
		loc = time.Local
	}
	db, err := sql.Open("sqlite", "file:"+filepath.ToSlash(dbPath)+"?"+readerPragmas)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &Reader{db: db, loc: loc}, nil
}

func (r *Reader) Close() error {
	return r.db.Close()
}

func (r *Reader) Location() *time.Location {
	return r.loc
}

// ListCameras returns cameras with at least one open or closed segment.
func (r *Reader) ListCameras(ctx context.Context) ([]Camera, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT c.id, COALESCE(c.name, ''), COALESCE(c.main_url, '')
		FROM cameras c
		WHERE EXISTS (
			SELECT 1 FROM segments s
			WHERE s.status IN (0, 1) AND (s.camera_id = c.id OR s.camera_url = c.main_url)
		)
		ORDER BY c.name, c.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}
	defer rows.Close()
	cams := []Camera{}
	for rows.Next() {
		var c Camera
		if err := rows.Scan(&c.ID, &c.Name, &c.MainURL); err != nil {
			return nil, fmt.Errorf("failed to scan camera: %w", err)
		}
		cams = append(cams, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}
	return cams, nil
}

// ListDays returns the distinct local dates (YYYY-MM-DD) on which a segment
// of the camera starts, ascending.
func (r *Reader) ListDays(ctx context.Context, cameraID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT s.start_utc_ns FROM segments s
		WHERE s.status IN (0, 1) AND `+segmentOwnerSQL+`
		ORDER BY s.start_utc_ns`, cameraID, cameraID)
	if err != nil {
		return nil, fmt.Errorf("failed to list days: %w", err)
	}
	defer rows.Close()
	days := []string{}
	for rows.Next() {
		var startNs int64
		if err := rows.Scan(&startNs); err != nil {
			return nil, fmt.Errorf("failed to scan segment start: %w", err)
		}
		day := time.Unix(0, startNs).In(r.loc).Format("2006-01-02")
		if len(days) == 0 || days[len(days)-1] != day {
			days = append(days, day)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list days: %w", err)
	}
	return days, nil
}

// ListSegments returns the camera's segments whose [start, effective end)
// intersects the local day, ordered by start. Segments still being written
// are included with zero length.
func (r *Reader) ListSegments(ctx context.Context, cameraID int64, day string) ([]Segment, error) {
	dayStart, dayEnd, err := DayWindow(day, r.loc)
	if err != nil {
		return nil, fmt.Errorf("invalid day %q: %w", day, err)
	}
	return r.ListSegmentsBetween(ctx, cameraID, dayStart, dayEnd)
}

// ListSegmentsBetween is ListSegments for an arbitrary [startNs, endNs) window.
func (r *Reader) ListSegmentsBetween(ctx context.Context, cameraID, startNs, endNs int64) ([]Segment, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT path, start_utc_ns, eff_end_ns, duration_ms, codec, width, height FROM (
			SELECT s.file_path AS path, s.start_utc_ns,
				`+effectiveEndSQL+` AS eff_end_ns,
				COALESCE(s.duration_ms, 0) AS duration_ms,
				COALESCE(s.video_codec, '') AS codec,
				COALESCE(s.width, 0) AS width,
				COALESCE(s.height, 0) AS height
			FROM segments s
			WHERE s.status IN (0, 1) AND `+segmentOwnerSQL+` AND s.start_utc_ns < ?
		)
		WHERE eff_end_ns > ?
		ORDER BY start_utc_ns`, cameraID, cameraID, endNs, startNs)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}
	defer rows.Close()
	segs := []Segment{}
	for rows.Next() {
		var s Segment
		if err := rows.Scan(&s.Path, &s.StartNs, &s.EndNs, &s.DurationMs, &s.Video.Codec, &s.Video.Width, &s.Video.Height); err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		segs = append(segs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}
	return segs, nil
}
