package records

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"teacher-agent/internal/domain"
)

// PostgresStore implements domain.StudentRecordStore on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL, verifies the connection and runs
// the schema migration.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate records db: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Seed inserts data when the students table is empty.
func (s *PostgresStore) Seed(ctx context.Context, data []SeedStudent) (bool, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM students").Scan(&n); err != nil {
		return false, storeError("Seed", err)
	}
	if n > 0 {
		return false, nil
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, st := range data {
			var id int64
			if err := tx.QueryRow(ctx,
				"INSERT INTO students (name, class, section) VALUES ($1, $2, $3) RETURNING id",
				st.Name, st.Class, st.Section).Scan(&id); err != nil {
				return err
			}

			batch := &pgx.Batch{}
			for _, a := range st.Attendance {
				batch.Queue("INSERT INTO attendance (student_id, date, status) VALUES ($1, $2, $3)", id, a.Date, a.Status)
			}
			for _, b := range st.Behavior {
				batch.Queue("INSERT INTO behavior_records (student_id, date, source, details, sentiment_score) VALUES ($1, $2, $3, $4, $5)",
					id, b.Date, b.Source, b.Details, b.Sentiment)
			}
			for _, r := range st.Academics {
				batch.Queue("INSERT INTO academic_records (student_id, date, subject, assessment, score, max_score) VALUES ($1, $2, $3, $4, $5, $6)",
					id, r.Date, r.Subject, r.Assessment, r.Score, r.MaxScore)
			}
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, storeError("Seed", err)
	}
	return true, nil
}

func (s *PostgresStore) FindStudents(ctx context.Context, nameLike string, limit int) ([]domain.Student, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id, name, class, section FROM students WHERE name ILIKE $1 ORDER BY name LIMIT $2",
		likePattern(nameLike), clampLimit(limit))
	if err != nil {
		return nil, storeError("FindStudents", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Student, error) {
		var st domain.Student
		err := row.Scan(&st.ID, &st.Name, &st.Class, &st.Section)
		return st, err
	})
	if err != nil {
		return nil, storeError("FindStudents", err)
	}
	return out, nil
}

func (s *PostgresStore) AttendanceSummary(ctx context.Context, studentID int64) (domain.AttendanceSummary, error) {
	var sum domain.AttendanceSummary
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'present'),
			COUNT(*) FILTER (WHERE status = 'absent'),
			COUNT(*) FILTER (WHERE status = 'late')
		FROM attendance WHERE student_id = $1`, studentID).Scan(&sum.Present, &sum.Absent, &sum.Late)
	if err != nil {
		return domain.AttendanceSummary{}, storeError("AttendanceSummary", err)
	}
	sum.Rate = attendanceRate(sum.Present, sum.Absent, sum.Late)
	return sum, nil
}

func (s *PostgresStore) RecentBehavior(ctx context.Context, studentID int64, limit int) ([]domain.BehaviorRecord, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT date, source, details, sentiment_score FROM behavior_records WHERE student_id = $1 ORDER BY date DESC, id DESC LIMIT $2",
		studentID, clampLimit(limit))
	if err != nil {
		return nil, storeError("RecentBehavior", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.BehaviorRecord, error) {
		var r domain.BehaviorRecord
		err := row.Scan(&r.Date, &r.Source, &r.Details, &r.Sentiment)
		return r, err
	})
	if err != nil {
		return nil, storeError("RecentBehavior", err)
	}
	return out, nil
}

func (s *PostgresStore) AcademicRecords(ctx context.Context, studentID int64, limit int) ([]domain.AcademicRecord, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT date, subject, assessment, score, max_score FROM academic_records WHERE student_id = $1 ORDER BY date DESC, id DESC LIMIT $2",
		studentID, clampLimit(limit))
	if err != nil {
		return nil, storeError("AcademicRecords", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.AcademicRecord, error) {
		var r domain.AcademicRecord
		err := row.Scan(&r.Date, &r.Subject, &r.Assessment, &r.Score, &r.MaxScore)
		return r, err
	})
	if err != nil {
		return nil, storeError("AcademicRecords", err)
	}
	return out, nil
}

var _ domain.StudentRecordStore = (*PostgresStore)(nil)
