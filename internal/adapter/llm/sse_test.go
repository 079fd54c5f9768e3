package llm

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"teacher-agent/internal/domain"
)

func textParser(data []byte) (*domain.StreamDelta, error) {
	s := string(data)
	if !strings.HasPrefix(s, "{") {
		return nil, io.ErrUnexpectedEOF
	}
	return &domain.StreamDelta{Text: strings.Trim(s, "{}")}, nil
}

func collectDeltas(ch <-chan domain.StreamDelta) []domain.StreamDelta {
	var out []domain.StreamDelta
	for d := range ch {
		out = append(out, d)
	}
	return out
}

func TestParseSSEStreamBasic(t *testing.T) {
	raw := "data: {hello}\n\ndata: {world}\n\ndata: [DONE]\n\n"
	deltas := collectDeltas(parseSSEStream(context.Background(), io.NopCloser(strings.NewReader(raw)), textParser))

	if len(deltas) != 3 {
		t.Fatalf("expected 3 deltas, got %d", len(deltas))
	}
	if deltas[0].Text != "hello" || deltas[1].Text != "world" {
		t.Errorf("texts = %q, %q", deltas[0].Text, deltas[1].Text)
	}
	if !deltas[2].Done {
		t.Error("expected final delta to be Done")
	}
}

func TestParseSSEStreamEOFEndsWithDone(t *testing.T) {
	raw := ": keep-alive\ndata: {ok}\n\n"
	deltas := collectDeltas(parseSSEStream(context.Background(), io.NopCloser(strings.NewReader(raw)), textParser))

	if len(deltas) != 2 {
		t.Fatalf("expected 2 deltas, got %v", deltas)
	}
	if deltas[0].Text != "ok" {
		t.Errorf("delta[0] = %q", deltas[0].Text)
	}
	if !deltas[1].Done || deltas[1].Err != nil {
		t.Errorf("expected clean Done, got %+v", deltas[1])
	}
}

func TestParseSSEStreamNoSpaceAfterColon(t *testing.T) {
	raw := "data:{tight}\n\n"
	deltas := collectDeltas(parseSSEStream(context.Background(), io.NopCloser(strings.NewReader(raw)), textParser))
	if len(deltas) == 0 || deltas[0].Text != "tight" {
		t.Fatalf("expected tight delta, got %v", deltas)
	}
}

func TestParseSSEStreamSkipsUnparseable(t *testing.T) {
	raw := "data: INVALID\ndata: {good}\n\n"
	deltas := collectDeltas(parseSSEStream(context.Background(), io.NopCloser(strings.NewReader(raw)), textParser))

	if len(deltas) != 2 || deltas[0].Text != "good" {
		t.Fatalf("expected good delta then Done, got %v", deltas)
	}
}

type failingReader struct{ r io.Reader }

func (f *failingReader) Read(p []byte) (int, error) {
	n, err := f.r.Read(p)
	if err == io.EOF {
		return n, errors.New("connection reset")
	}
	return n, err
}

func TestParseSSEStreamReadErrorReported(t *testing.T) {
	body := io.NopCloser(&failingReader{r: strings.NewReader("data: {partial}\n\n")})
	deltas := collectDeltas(parseSSEStream(context.Background(), body, textParser))

	last := deltas[len(deltas)-1]
	if !last.Done {
		t.Fatal("expected final Done delta")
	}
	if !errors.Is(last.Err, domain.ErrOracleFailure) {
		t.Errorf("expected ErrOracleFailure, got %v", last.Err)
	}
}

func TestParseSSEStreamContextCancel(t *testing.T) {
	pr, pw := io.Pipe()
	go func() {
		for i := 0; i < 100; i++ {
			if _, err := pw.Write([]byte("data: {x}\n\n")); err != nil {
				return
			}
			time.Sleep(50 * time.Millisecond)
		}
		pw.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	count := len(collectDeltas(parseSSEStream(ctx, pr, textParser)))
	if count >= 100 {
		t.Fatalf("expected context cancel to stop early, got %d", count)
	}
}
