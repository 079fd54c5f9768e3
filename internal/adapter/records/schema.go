// Package records implements the student records stores behind the
// analytics capability.
package records

import "time"

// Attendance statuses stored in the attendance table.
const (
	StatusPresent = "present"
	StatusAbsent  = "absent"
	StatusLate    = "late"
)

const dateLayout = "2006-01-02"

// sqliteSchema creates the four record tables. The Postgres schema differs
// only in column types.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS students (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	name    TEXT NOT NULL,
	class   TEXT NOT NULL DEFAULT '',
	section TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS attendance (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	student_id INTEGER NOT NULL REFERENCES students(id),
	date       TEXT NOT NULL,
	status     TEXT NOT NULL CHECK (status IN ('present', 'absent', 'late'))
);
CREATE TABLE IF NOT EXISTS behavior_records (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	student_id      INTEGER NOT NULL REFERENCES students(id),
	date            TEXT NOT NULL,
	source          TEXT NOT NULL DEFAULT '',
	details         TEXT NOT NULL DEFAULT '',
	sentiment_score REAL NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS academic_records (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	student_id INTEGER NOT NULL REFERENCES students(id),
	date       TEXT NOT NULL,
	subject    TEXT NOT NULL,
	assessment TEXT NOT NULL DEFAULT '',
	score      REAL NOT NULL,
	max_score  REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attendance_student ON attendance(student_id);
CREATE INDEX IF NOT EXISTS idx_behavior_student ON behavior_records(student_id, date);
CREATE INDEX IF NOT EXISTS idx_academic_student ON academic_records(student_id, date);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS students (
	id      BIGSERIAL PRIMARY KEY,
	name    TEXT NOT NULL,
	class   TEXT NOT NULL DEFAULT '',
	section TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS attendance (
	id         BIGSERIAL PRIMARY KEY,
	student_id BIGINT NOT NULL REFERENCES students(id),
	date       DATE NOT NULL,
	status     TEXT NOT NULL CHECK (status IN ('present', 'absent', 'late'))
);
CREATE TABLE IF NOT EXISTS behavior_records (
	id              BIGSERIAL PRIMARY KEY,
	student_id      BIGINT NOT NULL REFERENCES students(id),
	date            DATE NOT NULL,
	source          TEXT NOT NULL DEFAULT '',
	details         TEXT NOT NULL DEFAULT '',
	sentiment_score DOUBLE PRECISION NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS academic_records (
	id         BIGSERIAL PRIMARY KEY,
	student_id BIGINT NOT NULL REFERENCES students(id),
	date       DATE NOT NULL,
	subject    TEXT NOT NULL,
	assessment TEXT NOT NULL DEFAULT '',
	score      DOUBLE PRECISION NOT NULL,
	max_score  DOUBLE PRECISION NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attendance_student ON attendance(student_id);
CREATE INDEX IF NOT EXISTS idx_behavior_student ON behavior_records(student_id, date);
CREATE INDEX IF NOT EXISTS idx_academic_student ON academic_records(student_id, date);
`

// SeedStudent is one student of the demo data set with its records.
type SeedStudent struct {
	Name       string
	Class      string
	Section    string
	Attendance []SeedAttendance
	Behavior   []SeedBehavior
	Academics  []SeedAcademic
}

// SeedAttendance is one attendance row of the demo data set.
type SeedAttendance struct {
	Date   time.Time
	Status string
}

// SeedBehavior is one behaviour row of the demo data set.
type SeedBehavior struct {
	Date      time.Time
	Source    string
	Details   string
	Sentiment float64
}

// SeedAcademic is one assessment row of the demo data set.
type SeedAcademic struct {
	Date       time.Time
	Subject    string
	Assessment string
	Score      float64
	MaxScore   float64
}

func day(s string) time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

// DemoData is a small classroom used by --seed and the tests.
func DemoData() []SeedStudent {
	return []SeedStudent{
		{
			Name: "Aarav Sharma", Class: "5", Section: "A",
			Attendance: []SeedAttendance{
				{day("2025-01-06"), StatusPresent},
				{day("2025-01-07"), StatusPresent},
				{day("2025-01-08"), StatusLate},
				{day("2025-01-09"), StatusAbsent},
				{day("2025-01-10"), StatusPresent},
			},
			Behavior: []SeedBehavior{
				{day("2025-01-07"), "class teacher", "Helped a classmate with fractions.", 0.8},
				{day("2025-01-09"), "parent note", "Absent due to fever.", 0},
			},
			Academics: []SeedAcademic{
				{day("2025-01-08"), "Mathematics", "Fractions quiz", 17, 20},
				{day("2025-01-10"), "Science", "Plants worksheet", 12, 20},
			},
		},
		{
			Name: "Priya Nair", Class: "5", Section: "A",
			Attendance: []SeedAttendance{
				{day("2025-01-06"), StatusPresent},
				{day("2025-01-07"), StatusPresent},
				{day("2025-01-08"), StatusPresent},
				{day("2025-01-09"), StatusPresent},
				{day("2025-01-10"), StatusPresent},
			},
			Behavior: []SeedBehavior{
				{day("2025-01-08"), "class teacher", "Led the group reading session.", 0.9},
			},
			Academics: []SeedAcademic{
				{day("2025-01-08"), "Mathematics", "Fractions quiz", 19, 20},
				{day("2025-01-10"), "English", "Reading fluency", 42, 50},
			},
		},
		{
			Name: "Rohan Verma", Class: "6", Section: "B",
			Attendance: []SeedAttendance{
				{day("2025-01-06"), StatusAbsent},
				{day("2025-01-07"), StatusLate},
				{day("2025-01-08"), StatusPresent},
			},
			Behavior: []SeedBehavior{
				{day("2025-01-06"), "class teacher", "Distracted during the science lab.", -0.4},
				{day("2025-01-08"), "sports teacher", "Good teamwork in football practice.", 0.6},
			},
			Academics: []SeedAcademic{
				{day("2025-01-07"), "Science", "Light and shadows test", 9, 25},
			},
		},
	}
}

// attendanceRate is present+late over all rows, 0 when there are none.
func attendanceRate(present, absent, late int) float64 {
	total := present + absent + late
	if total == 0 {
		return 0
	}
	return float64(present+late) / float64(total)
}
