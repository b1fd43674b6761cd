package render

import (
	"strings"
	"testing"
)

func TestRender_StripsDisallowedTags(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		policy Policy
	}{
		{"script block", "hello <script>alert(1)</script>", Block},
		{"script inline", "hello <script>alert(1)</script>", Inline},
		{"iframe", `<iframe src="http://evil"></iframe> text`, Block},
		{"onclick", `<a href="http://x" onclick="steal()">x</a>`, Inline},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := Render(tc.body, tc.policy)
			for _, bad := range []string{"<script", "<iframe", "onclick", "alert(1)"} {
				if strings.Contains(out, bad) {
					t.Fatalf("output %q contains %q", out, bad)
				}
			}
		})
	}
}

func TestRender_KeepsAllowedTags(t *testing.T) {
	out := Render("this is <em>important</em>", Inline)
	if !strings.Contains(out, "<em>important</em>") {
		t.Fatalf("expected em preserved, got %q", out)
	}

	out = Render("*stressed* and **bold**", Block)
	if !strings.Contains(out, "<em>stressed</em>") || !strings.Contains(out, "<strong>bold</strong>") {
		t.Fatalf("expected markdown emphasis, got %q", out)
	}
}

func TestRender_InlineDropsBlockTags(t *testing.T) {
	body := "# Title\n\n- one\n- two"
	block := Render(body, Block)
	if !strings.Contains(block, "<h1>") || !strings.Contains(block, "<li>") {
		t.Fatalf("block policy should keep headings and lists, got %q", block)
	}
	inline := Render(body, Inline)
	if strings.Contains(inline, "<h1>") || strings.Contains(inline, "<li>") || strings.Contains(inline, "<p>") {
		t.Fatalf("inline policy should strip block tags, got %q", inline)
	}
	if !strings.Contains(inline, "Title") {
		t.Fatalf("stripped tags should keep their text, got %q", inline)
	}
}

func TestRender_LinkifiesBareURLs(t *testing.T) {
	out := Render("see https://example.com/docs for more", Inline)
	if !strings.Contains(out, `href="https://example.com/docs"`) {
		t.Fatalf("expected bare url to be linked, got %q", out)
	}
	if !strings.Contains(out, `rel="nofollow"`) {
		t.Fatalf("expected nofollow on links, got %q", out)
	}
}

func TestRender_EmptyBody(t *testing.T) {
	if got := Render("   ", Block); got != "" {
		t.Fatalf("expected empty html, got %q", got)
	}
}

func TestRender_Deterministic(t *testing.T) {
	body := "a *b* https://c.example"
	if Render(body, Block) != Render(body, Block) {
		t.Fatalf("render must be a pure function of its input")
	}
}
