package document

import (
	"errors"
	"testing"

	"exigo/pkg/existdb"
)

func TestParse(t *testing.T) {
	doc, err := Parse(`<example id="t1">hello</example>`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if doc.XML.Root().Tag != "example" {
		t.Errorf("expected root element example, got %q", doc.XML.Root().Tag)
	}
	if doc.Client() != nil {
		t.Error("expected no client on a locally created document")
	}
	if doc.Collection() != "." {
		t.Errorf("expected collection %q, got %q", ".", doc.Collection())
	}
}

func TestParseRejectsMalformedXML(t *testing.T) {
	if _, err := Parse("<example>unclosed"); err == nil {
		t.Error("expected malformed XML to be rejected")
	}
}

func TestSetCollectionMangles(t *testing.T) {
	doc, err := Parse("<example/>")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	doc.SetCollection("/foo/bar/")
	if doc.Collection() != "foo/bar" {
		t.Errorf("expected collection foo/bar, got %q", doc.Collection())
	}
}

func TestSetFilenameValidates(t *testing.T) {
	doc, err := Parse("<example/>")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if err := doc.SetFilename("doc.xml"); err != nil {
		t.Errorf("expected doc.xml to be accepted, got %v", err)
	}
	if doc.Filename() != "doc.xml" {
		t.Errorf("expected filename doc.xml, got %q", doc.Filename())
	}

	err = doc.SetFilename("a/b.xml")
	var configErr *existdb.ConfigError
	if !errors.As(err, &configErr) {
		t.Errorf("expected ConfigError for a multi-segment filename, got %v", err)
	}
	if doc.Filename() != "doc.xml" {
		t.Errorf("expected filename to be unchanged, got %q", doc.Filename())
	}
}
