package records

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"teacher-agent/internal/domain"
)

// Snapshot limits.
const (
	maxSnapshotStudents = 5
	snapshotHistory     = 10
)

// stopwords are query words that never identify a student.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "how": true, "what": true, "who": true, "is": true,
	"are": true, "was": true, "has": true, "have": true, "doing": true, "show": true, "tell": true,
	"about": true, "with": true, "this": true, "that": true, "month": true, "week": true, "year": true,
	"student": true, "students": true, "attendance": true, "behavior": true, "behaviour": true,
	"academic": true, "academics": true, "marks": true, "score": true, "scores": true, "grades": true,
	"performance": true, "report": true, "record": true, "records": true, "class": true, "section": true,
	"please": true, "give": true, "me": true, "my": true, "of": true, "in": true, "on": true,
	"progress": true, "summary": true, "details": true, "his": true, "her": true, "their": true,
}

// Directory builds student snapshots from a record store.
type Directory struct {
	store  domain.StudentRecordStore
	logger *slog.Logger
}

// NewDirectory creates a Directory over store.
func NewDirectory(store domain.StudentRecordStore, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{store: store, logger: logger.With("component", "records")}
}

// Snapshot implements domain.StudentDirectory. Students are matched on the
// name words of query; students matching more words rank first.
func (d *Directory) Snapshot(ctx context.Context, query string) ([]domain.StudentSnapshot, error) {
	students, err := d.match(ctx, query)
	if err != nil {
		return nil, err
	}

	snaps := make([]domain.StudentSnapshot, 0, len(students))
	for _, st := range students {
		snap, err := d.snapshot(ctx, st)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	d.logger.Debug("student snapshots built", "query_words", len(nameWords(query)), "students", len(snaps))
	return snaps, nil
}

func (d *Directory) match(ctx context.Context, query string) ([]domain.Student, error) {
	type hit struct {
		student domain.Student
		words   int
	}
	hits := make(map[int64]*hit)
	for _, w := range nameWords(query) {
		found, err := d.store.FindStudents(ctx, w, maxSnapshotStudents*2)
		if err != nil {
			return nil, err
		}
		for _, st := range found {
			if h, ok := hits[st.ID]; ok {
				h.words++
				continue
			}
			hits[st.ID] = &hit{student: st, words: 1}
		}
	}

	ranked := make([]*hit, 0, len(hits))
	for _, h := range hits {
		ranked = append(ranked, h)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].words != ranked[j].words {
			return ranked[i].words > ranked[j].words
		}
		return ranked[i].student.Name < ranked[j].student.Name
	})

	var out []domain.Student
	for _, h := range ranked {
		out = append(out, h.student)
		if len(out) == maxSnapshotStudents {
			break
		}
	}
	return out, nil
}

func (d *Directory) snapshot(ctx context.Context, st domain.Student) (domain.StudentSnapshot, error) {
	snap := domain.StudentSnapshot{Student: st}
	var err error
	if snap.Attendance, err = d.store.AttendanceSummary(ctx, st.ID); err != nil {
		return snap, err
	}
	if snap.Behavior, err = d.store.RecentBehavior(ctx, st.ID, snapshotHistory); err != nil {
		return snap, err
	}
	if snap.Academics, err = d.store.AcademicRecords(ctx, st.ID, snapshotHistory); err != nil {
		return snap, err
	}
	return snap, nil
}

// nameWords extracts the distinct words of query that could be part of a
// student name.
func nameWords(query string) []string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\'' && r != '-'
	})
	seen := make(map[string]bool, len(fields))
	var out []string
	for _, f := range fields {
		w := strings.ToLower(strings.Trim(f, "'-"))
		w = strings.TrimSuffix(w, "'s")
		if len([]rune(w)) < 3 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

var _ domain.StudentDirectory = (*Directory)(nil)
