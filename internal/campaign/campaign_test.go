package campaign

import (
	"testing"
)

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		c       Campaign
		wantErr bool
	}{
		{
			name: "text ok",
			c:    Campaign{Title: "spring promo", Body: Text{Text: "hi"}, Segment: SegmentAll},
		},
		{
			name:    "empty title",
			c:       Campaign{Body: Text{Text: "hi"}, Segment: SegmentAll},
			wantErr: true,
		},
		{
			name:    "empty text",
			c:       Campaign{Title: "x", Body: Text{}, Segment: SegmentAll},
			wantErr: true,
		},
		{
			name:    "photo without media",
			c:       Campaign{Title: "x", Body: Photo{Caption: "pic"}, Segment: SegmentAll},
			wantErr: true,
		},
		{
			name:    "unknown segment",
			c:       Campaign{Title: "x", Body: Text{Text: "hi"}, Segment: "vip"},
			wantErr: true,
		},
		{
			name: "buttons ok",
			c: Campaign{
				Title:   "x",
				Body:    Text{Text: "hi"},
				Segment: SegmentActive7,
				Buttons: [][]Button{{{Label: "Site", URL: "https://example.com"}}},
			},
		},
		{
			name: "button without url",
			c: Campaign{
				Title:   "x",
				Body:    Text{Text: "hi"},
				Segment: SegmentActive7,
				Buttons: [][]Button{{{Label: "Site"}}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := tt.c.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewBodyRoundTrip(t *testing.T) {
	t.Parallel()
	bodies := []Body{
		Text{Text: "plain"},
		Photo{Caption: "cap", FileID: "ph-1"},
		Video{Caption: "", FileID: "vid-1"},
		Document{Caption: "price list", FileID: "doc-1"},
	}
	for _, want := range bodies {
		kind, text, fileID := Flatten(want)
		got, err := NewBody(kind, text, fileID)
		if err != nil {
			t.Fatalf("NewBody(%v): %v", kind, err)
		}
		if got != want {
			t.Fatalf("round trip %v -> %v", want, got)
		}
	}
}

func TestNewBodyRejectsMediaWithoutRef(t *testing.T) {
	t.Parallel()
	for _, kind := range []BodyKind{KindPhoto, KindVideo, KindDocument} {
		if _, err := NewBody(kind, "caption", ""); err == nil {
			t.Fatalf("NewBody(%v) without file id succeeded", kind)
		}
	}
}

func TestParseButtonRows(t *testing.T) {
	t.Parallel()
	rows, err := ParseButtonRows("Site | https://a.example\nDocs | https://b.example | More | https://c.example\n")
	if err != nil {
		t.Fatalf("ParseButtonRows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if len(rows[1]) != 2 {
		t.Fatalf("second row buttons = %d, want 2", len(rows[1]))
	}
	if rows[0][0] != (Button{Label: "Site", URL: "https://a.example"}) {
		t.Fatalf("unexpected first button: %+v", rows[0][0])
	}

	if _, err := ParseButtonRows("only-label"); err == nil {
		t.Fatal("expected error for unpaired button line")
	}
	if _, err := ParseButtonRows("| https://a.example"); err == nil {
		t.Fatal("expected error for empty label")
	}
}

func TestParseSegment(t *testing.T) {
	t.Parallel()
	if _, err := ParseSegment("top_referrers"); err != nil {
		t.Fatalf("ParseSegment: %v", err)
	}
	if _, err := ParseSegment(" ALL "); err != nil {
		t.Fatalf("ParseSegment should normalize case/space: %v", err)
	}
	if _, err := ParseSegment("everyone"); err == nil {
		t.Fatal("expected error for unknown segment")
	}
}
