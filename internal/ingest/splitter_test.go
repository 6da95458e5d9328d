package ingest

import (
	"strings"
	"testing"

	"github.com/ragbase/ragbase/internal/models"
)

func TestNewSplitterValidation(t *testing.T) {
	if _, err := NewSplitter(0, 0); err == nil {
		t.Error("chunk size 0 must fail")
	}
	if _, err := NewSplitter(100, 100); err == nil {
		t.Error("overlap == chunk size must fail")
	}
	if _, err := NewSplitter(100, -1); err == nil {
		t.Error("negative overlap must fail")
	}
	if _, err := NewSplitter(100, 20); err != nil {
		t.Errorf("valid parameters rejected: %v", err)
	}
}

func TestSplitEmptyInput(t *testing.T) {
	s, _ := NewSplitter(100, 20)
	if got := s.Split(nil); len(got) != 0 {
		t.Errorf("nil segments: got %d chunks", len(got))
	}
	got := s.Split([]models.Segment{{Text: "   \n\n  "}})
	if len(got) != 0 {
		t.Errorf("blank segment: got %d chunks", len(got))
	}
}

func TestSplitShortText(t *testing.T) {
	s, _ := NewSplitter(100, 20)
	got := s.Split([]models.Segment{{Text: "short text"}})
	if len(got) != 1 || got[0].Text != "short text" {
		t.Fatalf("short text: got %+v", got)
	}
}

func TestSplitRespectsSizeLimit(t *testing.T) {
	s, _ := NewSplitter(50, 10)
	text := strings.Repeat("word ", 100)
	got := s.Split([]models.Segment{{Text: text}})
	if len(got) < 2 {
		t.Fatalf("long text must split: got %d chunks", len(got))
	}
	for i, chunk := range got {
		if len(chunk.Text) > 50 {
			t.Errorf("chunk %d has %d bytes, limit 50", i, len(chunk.Text))
		}
		if chunk.Text == "" {
			t.Errorf("chunk %d is empty", i)
		}
	}
}

func TestSplitPrefersParagraphBoundary(t *testing.T) {
	s, _ := NewSplitter(40, 0)
	text := "First paragraph here.\n\nSecond paragraph follows after the break."
	got := s.Split([]models.Segment{{Text: text}})
	if len(got) < 2 {
		t.Fatalf("expected a split, got %d chunks", len(got))
	}
	if !strings.HasPrefix(got[0].Text, "First paragraph") {
		t.Errorf("first chunk: %q", got[0].Text)
	}
	if strings.Contains(got[0].Text, "Second") {
		t.Errorf("cut must fall on the paragraph break: %q", got[0].Text)
	}
}

func TestSplitOverlapCarriesText(t *testing.T) {
	s, _ := NewSplitter(30, 10)
	text := strings.Repeat("abcde ", 20)
	got := s.Split([]models.Segment{{Text: text}})
	if len(got) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(got))
	}
	// The tail of each chunk reappears at the head of the next.
	tail := got[0].Text[len(got[0].Text)-5:]
	if !strings.Contains(got[1].Text[:15], tail) {
		t.Errorf("no overlap between %q and %q", got[0].Text, got[1].Text)
	}
}

func TestSplitMultibyteRuneSafety(t *testing.T) {
	s, _ := NewSplitter(10, 2)
	text := strings.Repeat("日本語テキスト", 10)
	got := s.Split([]models.Segment{{Text: text}})
	for i, chunk := range got {
		if !utf8Valid(chunk.Text) {
			t.Errorf("chunk %d is not valid UTF-8: %q", i, chunk.Text)
		}
	}
}

func utf8Valid(s string) bool {
	for _, r := range s {
		if r == '�' {
			return false
		}
	}
	return true
}

func TestSplitPropagatesMetadata(t *testing.T) {
	s, _ := NewSplitter(20, 5)
	meta := map[string]interface{}{"page": 3}
	got := s.Split([]models.Segment{{Text: strings.Repeat("t ", 40), Metadata: meta}})
	if len(got) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(got))
	}
	for i, chunk := range got {
		if chunk.Metadata["page"] != 3 {
			t.Errorf("chunk %d lost metadata: %+v", i, chunk.Metadata)
		}
	}
}

func TestSplitMultipleSegmentsKeepOrder(t *testing.T) {
	s, _ := NewSplitter(100, 20)
	got := s.Split([]models.Segment{{Text: "page one"}, {Text: "page two"}})
	if len(got) != 2 {
		t.Fatalf("got %d chunks, want 2", len(got))
	}
	if got[0].Text != "page one" || got[1].Text != "page two" {
		t.Errorf("segment order lost: %+v", got)
	}
}

func TestSplitSkipsWhitespaceRuns(t *testing.T) {
	s, _ := NewSplitter(20, 4)
	text := strings.Repeat("alpha", 4) + strings.Repeat(" ", 40) + strings.Repeat("omega", 4)
	got := s.Split([]models.Segment{{Text: text}})
	if len(got) == 0 {
		t.Fatal("no chunks produced")
	}
	var sawOmega bool
	for i, chunk := range got {
		if strings.TrimSpace(chunk.Text) == "" {
			t.Errorf("chunk %d is whitespace-only: %q", i, chunk.Text)
		}
		if strings.Contains(chunk.Text, "omega") {
			sawOmega = true
		}
	}
	if !sawOmega {
		t.Error("text after the whitespace run was lost")
	}
}
