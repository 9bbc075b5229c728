package markdown

import (
	"strings"
	"testing"
)

func TestToOverlayHTML(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"bold", "use **bold** text", "use <b>bold</b> text"},
		{"italic", "an *emphasis* here", "an <i>emphasis</i> here"},
		{"inline code", "run `go doc`", "run <code>go doc</code>"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ToOverlayHTML(tc.in); got != tc.want {
				t.Errorf("ToOverlayHTML(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestToOverlayHTMLLists(t *testing.T) {
	got := ToOverlayHTML("- first\n- second")
	if !strings.Contains(got, "• first") || !strings.Contains(got, "• second") {
		t.Errorf("list items not bulleted: %q", got)
	}
	if strings.Contains(got, "<li>") || strings.Contains(got, "<ul>") {
		t.Errorf("list tags leaked through: %q", got)
	}
}

func TestToOverlayHTMLStripsUnsupportedTags(t *testing.T) {
	got := ToOverlayHTML("# Heading\n\nbody")
	if strings.Contains(got, "<h1") {
		t.Errorf("heading tag leaked through: %q", got)
	}
	if !strings.Contains(got, "Heading") || !strings.Contains(got, "body") {
		t.Errorf("text content lost: %q", got)
	}
}
