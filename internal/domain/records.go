package domain

import (
	"context"
	"time"
)

// Student is a row of the student directory.
type Student struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Class   string `json:"class"`
	Section string `json:"section"`
}

// AttendanceSummary aggregates attendance rows for one student.
type AttendanceSummary struct {
	Present int     `json:"present"`
	Absent  int     `json:"absent"`
	Late    int     `json:"late"`
	Rate    float64 `json:"rate"` // present+late over total, 0 when no rows
}

// BehaviorRecord is one behaviour observation.
type BehaviorRecord struct {
	Date      time.Time `json:"date"`
	Source    string    `json:"source"`
	Details   string    `json:"details"`
	Sentiment float64   `json:"sentiment_score"`
}

// AcademicRecord is one graded assessment.
type AcademicRecord struct {
	Date       time.Time `json:"date"`
	Subject    string    `json:"subject"`
	Assessment string    `json:"assessment"`
	Score      float64   `json:"score"`
	MaxScore   float64   `json:"max_score"`
}

// StudentSnapshot is the analytics view of one student.
type StudentSnapshot struct {
	Student    Student           `json:"student"`
	Attendance AttendanceSummary `json:"attendance"`
	Behavior   []BehaviorRecord  `json:"behavior"`
	Academics  []AcademicRecord  `json:"academics"`
}

// StudentRecordStore is the relational store behind the analytics capability.
type StudentRecordStore interface {
	FindStudents(ctx context.Context, nameLike string, limit int) ([]Student, error)
	AttendanceSummary(ctx context.Context, studentID int64) (AttendanceSummary, error)
	RecentBehavior(ctx context.Context, studentID int64, limit int) ([]BehaviorRecord, error)
	AcademicRecords(ctx context.Context, studentID int64, limit int) ([]AcademicRecord, error)
	Close() error
}

// StudentDirectory answers free-text student lookups with snapshots.
type StudentDirectory interface {
	Snapshot(ctx context.Context, query string) ([]StudentSnapshot, error)
}

// BlobStore persists generated artifacts and returns a public URL.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}
