package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"teacher-agent/internal/domain"
)

// SQLiteStore implements domain.StudentRecordStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and runs the
// schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open records db: %w", err)
	}
	// WAL mode for concurrent readers while the MCP server writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate records db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Seed inserts data when the students table is empty. It reports whether
// anything was inserted.
func (s *SQLiteStore) Seed(ctx context.Context, data []SeedStudent) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM students").Scan(&n); err != nil {
		return false, storeError("Seed", err)
	}
	if n > 0 {
		return false, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storeError("Seed", err)
	}
	defer tx.Rollback()

	for _, st := range data {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO students (name, class, section) VALUES (?, ?, ?)", st.Name, st.Class, st.Section)
		if err != nil {
			return false, storeError("Seed", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return false, storeError("Seed", err)
		}
		for _, a := range st.Attendance {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO attendance (student_id, date, status) VALUES (?, ?, ?)",
				id, a.Date.Format(dateLayout), a.Status); err != nil {
				return false, storeError("Seed", err)
			}
		}
		for _, b := range st.Behavior {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO behavior_records (student_id, date, source, details, sentiment_score) VALUES (?, ?, ?, ?, ?)",
				id, b.Date.Format(dateLayout), b.Source, b.Details, b.Sentiment); err != nil {
				return false, storeError("Seed", err)
			}
		}
		for _, r := range st.Academics {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO academic_records (student_id, date, subject, assessment, score, max_score) VALUES (?, ?, ?, ?, ?, ?)",
				id, r.Date.Format(dateLayout), r.Subject, r.Assessment, r.Score, r.MaxScore); err != nil {
				return false, storeError("Seed", err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return false, storeError("Seed", err)
	}
	return true, nil
}

func (s *SQLiteStore) FindStudents(ctx context.Context, nameLike string, limit int) ([]domain.Student, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, class, section FROM students WHERE name LIKE ? ESCAPE '\\' ORDER BY name LIMIT ?",
		likePattern(nameLike), clampLimit(limit))
	if err != nil {
		return nil, storeError("FindStudents", err)
	}
	defer rows.Close()

	var out []domain.Student
	for rows.Next() {
		var st domain.Student
		if err := rows.Scan(&st.ID, &st.Name, &st.Class, &st.Section); err != nil {
			return nil, storeError("FindStudents", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("FindStudents", err)
	}
	return out, nil
}

func (s *SQLiteStore) AttendanceSummary(ctx context.Context, studentID int64) (domain.AttendanceSummary, error) {
	var sum domain.AttendanceSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'present' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'absent' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'late' THEN 1 ELSE 0 END), 0)
		FROM attendance WHERE student_id = ?`, studentID).Scan(&sum.Present, &sum.Absent, &sum.Late)
	if err != nil {
		return domain.AttendanceSummary{}, storeError("AttendanceSummary", err)
	}
	sum.Rate = attendanceRate(sum.Present, sum.Absent, sum.Late)
	return sum, nil
}

func (s *SQLiteStore) RecentBehavior(ctx context.Context, studentID int64, limit int) ([]domain.BehaviorRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT date, source, details, sentiment_score FROM behavior_records WHERE student_id = ? ORDER BY date DESC, id DESC LIMIT ?",
		studentID, clampLimit(limit))
	if err != nil {
		return nil, storeError("RecentBehavior", err)
	}
	defer rows.Close()

	var out []domain.BehaviorRecord
	for rows.Next() {
		var (
			r    domain.BehaviorRecord
			date string
		)
		if err := rows.Scan(&date, &r.Source, &r.Details, &r.Sentiment); err != nil {
			return nil, storeError("RecentBehavior", err)
		}
		r.Date = parseDate(date)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("RecentBehavior", err)
	}
	return out, nil
}

func (s *SQLiteStore) AcademicRecords(ctx context.Context, studentID int64, limit int) ([]domain.AcademicRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT date, subject, assessment, score, max_score FROM academic_records WHERE student_id = ? ORDER BY date DESC, id DESC LIMIT ?",
		studentID, clampLimit(limit))
	if err != nil {
		return nil, storeError("AcademicRecords", err)
	}
	defer rows.Close()

	var out []domain.AcademicRecord
	for rows.Next() {
		var (
			r    domain.AcademicRecord
			date string
		)
		if err := rows.Scan(&date, &r.Subject, &r.Assessment, &r.Score, &r.MaxScore); err != nil {
			return nil, storeError("AcademicRecords", err)
		}
		r.Date = parseDate(date)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("AcademicRecords", err)
	}
	return out, nil
}

// --- helpers shared by the SQL stores ---

const (
	defaultLimit = 20
	maxLimit     = 200
)

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultLimit
	case limit > maxLimit:
		return maxLimit
	}
	return limit
}

// likePattern turns a name fragment into a case-insensitive LIKE pattern with
// wildcards escaped.
func likePattern(nameLike string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.TrimSpace(nameLike)) + "%"
}

func parseDate(s string) time.Time {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}

func storeError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return domain.NewSubSystemError("records", op, domain.ErrRecordStore, err.Error())
}

var _ domain.StudentRecordStore = (*SQLiteStore)(nil)
