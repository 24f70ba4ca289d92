package rcp

import (
	"strings"
	"testing"

	"github.com/alexban14/ai.dok/internal/domain"
)

func TestParse_StandardSections(t *testing.T) {
	text := "4.1 INDICAȚII TERAPEUTICE\n" +
		"Drug X is indicated for Y.\n" +
		"4.2 DOZE ŞI MOD DE ADMINISTRARE\n" +
		"The daily dose is 15 mg/kg.\n"

	sections, method := NewParser().Parse(text)
	if method != domain.ChunkingSectionAware {
		t.Fatalf("expected section_aware, got %s", method)
	}
	if len(sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(sections))
	}

	want := []domain.Section{
		{Number: "4.1", Title: "INDICAȚII TERAPEUTICE", Text: "Drug X is indicated for Y.", Ordinal: 0},
		{Number: "4.2", Title: "DOZE ŞI MOD DE ADMINISTRARE", Text: "The daily dose is 15 mg/kg.", Ordinal: 1},
	}
	for i, w := range want {
		got := sections[i]
		if got.Number != w.Number || got.Title != w.Title || got.Text != w.Text || got.Ordinal != w.Ordinal {
			t.Errorf("section %d: got %+v, want %+v", i, got, w)
		}
	}
}

func TestParse_NestedNumbersAndTitleCase(t *testing.T) {
	text := "4.2.1 Doze recomandate\nTwo tablets daily.\n5 PROPRIETĂȚI FARMACOLOGICE\nPharmacology text.\n"

	sections, method := NewParser().Parse(text)
	if method != domain.ChunkingSectionAware {
		t.Fatalf("expected section_aware, got %s", method)
	}
	if len(sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(sections))
	}
	if sections[0].Number != "4.2.1" || sections[0].Title != "Doze recomandate" {
		t.Errorf("unexpected first section: %+v", sections[0])
	}
	if sections[1].Number != "5" {
		t.Errorf("expected number 5, got %q", sections[1].Number)
	}
}

func TestParse_PreambleBecomesPseudoSection(t *testing.T) {
	text := "Produs medicamentos.\n1 DENUMIREA COMERCIALĂ\nName.\n2 COMPOZIȚIA\nComposition.\n"

	sections, _ := NewParser().Parse(text)
	if len(sections) != 3 {
		t.Fatalf("expected 3 sections, got %d", len(sections))
	}
	if sections[0].Number != "0" || sections[0].Title != "PREAMBLE" {
		t.Errorf("expected PREAMBLE pseudo-section, got %+v", sections[0])
	}
	if sections[0].Text != "Produs medicamentos." {
		t.Errorf("unexpected preamble text: %q", sections[0].Text)
	}
	for i, s := range sections {
		if s.Ordinal != i {
			t.Errorf("ordinal mismatch at %d: %d", i, s.Ordinal)
		}
	}
}

func TestParse_FewerThanTwoHeaders_FallsBack(t *testing.T) {
	for _, text := range []string{
		"no headers at all, just prose",
		"4.1 INDICAȚII TERAPEUTICE\nonly one header here",
	} {
		sections, method := NewParser().Parse(text)
		if method != domain.ChunkingFallback {
			t.Errorf("%q: expected fallback method, got %s", text, method)
		}
		if len(sections) != 1 {
			t.Fatalf("%q: expected 1 section, got %d", text, len(sections))
		}
		s := sections[0]
		if s.Number != "0" || s.Title != "FULL_TEXT" {
			t.Errorf("%q: unexpected fallback section: %+v", text, s)
		}
		if s.Text != strings.TrimSpace(text) {
			t.Errorf("%q: fallback must carry the whole text", text)
		}
	}
}

func TestParse_NeverEmpty(t *testing.T) {
	sections, _ := NewParser().Parse("")
	if len(sections) != 1 {
		t.Fatalf("parser must always return at least one section, got %d", len(sections))
	}
}

func TestParse_HyphenationJoined(t *testing.T) {
	text := "4.1 INDICAȚII TERAPEUTICE\nadminis-\ntrare orală\n4.2 CONTRAINDICAȚII\nNone.\n"

	sections, _ := NewParser().Parse(text)
	if sections[0].Text != "administrare orală" {
		t.Errorf("expected hyphenation joined, got %q", sections[0].Text)
	}
}

func TestParse_ContentLinesNotMistakenForHeaders(t *testing.T) {
	text := "4.1 INDICAȚII TERAPEUTICE\nThe daily dose is 15 mg/kg.\nDrug X is indicated for Y.\n4.8 REACȚII ADVERSE\nNausea.\n"

	sections, _ := NewParser().Parse(text)
	if len(sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(sections))
	}
	if !strings.Contains(sections[0].Text, "Drug X is indicated for Y.") {
		t.Errorf("content line lost: %q", sections[0].Text)
	}
}

func TestSectionLookups(t *testing.T) {
	text := "4 ATENȚIONĂRI\nCareful.\n4.1 INDICAȚII TERAPEUTICE\nIndications.\n4.8 REACȚII ADVERSE\nReactions.\n5 PROPRIETĂȚI FARMACOLOGICE\nProps.\n"
	sections, _ := NewParser().Parse(text)

	s, ok := SectionByNumber(sections, "4.8")
	if !ok || s.Title != "REACȚII ADVERSE" {
		t.Errorf("SectionByNumber(4.8) = %+v, %v", s, ok)
	}
	if _, ok := SectionByNumber(sections, "9.9"); ok {
		t.Error("SectionByNumber(9.9) should not be found")
	}

	got := SectionsByPrefix(sections, "4")
	if len(got) != 3 {
		t.Errorf("SectionsByPrefix(4) returned %d sections, want 3", len(got))
	}
}
