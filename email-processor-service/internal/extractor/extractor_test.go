package extractor

import (
	"fmt"
	"strings"
	"testing"
)

const morningBrewHTML = `<html><body>
<h1>Hi</h1>
<h2>Apple launches a new headset</h2>
<p>The device ships next month. <a href="https://example.com/apple">Apple headset story</a></p>
<h2>Markets rally after Fed decision</h2>
<p><a href="https://example.com/markets">Markets coverage here</a></p>
<p><a href="https://example.com/unsubscribe">Unsubscribe from this list</a></p>
</body></html>`

func TestExtractTwoHeadlines(t *testing.T) {
	t.Parallel()

	got := Extract(Input{HTML: morningBrewHTML, Subject: "5 Things Trending Today"})
	if len(got) != 2 {
		t.Fatalf("expected 2 articles, got %d: %+v", len(got), got)
	}

	want := []struct{ title, url string }{
		{"Apple launches a new headset", "https://example.com/apple"},
		{"Markets rally after Fed decision", "https://example.com/markets"},
	}
	for i, w := range want {
		if got[i].Title != w.title || got[i].URL != w.url {
			t.Fatalf("article %d = %q %q, want %q %q", i, got[i].Title, got[i].URL, w.title, w.url)
		}
	}
	if !strings.Contains(got[0].Content, "The device ships next month.") {
		t.Fatalf("content should carry the section text, got %q", got[0].Content)
	}
	if strings.Contains(got[0].Content, "Markets") {
		t.Fatalf("content leaked into the next section: %q", got[0].Content)
	}
}

func TestExtractClassedTitles(t *testing.T) {
	t.Parallel()

	html := `<table><tr><td class="story-Headline">A story that has a long headline</td></tr></table>
<div class="body">no link here</div>`
	got := Extract(Input{HTML: html, Subject: "s"})
	if len(got) != 1 || got[0].Title != "A story that has a long headline" || got[0].URL != "" {
		t.Fatalf("unexpected: %+v", got)
	}
}

func TestExtractPositionalPairing(t *testing.T) {
	t.Parallel()

	html := `<h3>Zebra crossings are back in fashion</h3>
<h3>Quantum chips get cheaper this year</h3>
<a href="https://example.com/one">first link text</a>
<a href="https://example.com/two">second link text</a>`
	got := Extract(Input{HTML: html})
	if len(got) != 2 {
		t.Fatalf("expected 2, got %d", len(got))
	}
	if got[0].URL != "https://example.com/one" || got[1].URL != "https://example.com/two" {
		t.Fatalf("positional pairing broken: %+v", got)
	}
}

func TestExtractNeverExceedsTen(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	for i := 0; i < 25; i++ {
		fmt.Fprintf(&b, "<h2>Headline number %02d of the day</h2><p>body %d</p>", i, i)
	}
	got := Extract(Input{HTML: b.String(), Subject: "Daily"})
	if len(got) != MaxArticles {
		t.Fatalf("expected %d, got %d", MaxArticles, len(got))
	}
}

func TestExtractFallback(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("plain words without any headline markup ", 3)
	got := Extract(Input{HTML: "<div>" + body + "</div>", Subject: "Weekly Notes"})
	if len(got) != 1 {
		t.Fatalf("expected one fallback article, got %d", len(got))
	}
	if got[0].Title != "Weekly Notes" || got[0].Content != strings.TrimSpace(body) {
		t.Fatalf("unexpected fallback: %+v", got[0])
	}
}

func TestExtractFallbackUsesTextAndDefaultTitle(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("x", 400)
	got := Extract(Input{Text: text})
	if len(got) != 1 || got[0].Title != "Newsletter Update" {
		t.Fatalf("unexpected: %+v", got)
	}
	if got[0].Excerpt != strings.Repeat("x", 300)+"..." {
		t.Fatalf("excerpt not truncated: %d", len(got[0].Excerpt))
	}
}

func TestExtractEmptyBodyYieldsNothing(t *testing.T) {
	t.Parallel()

	for _, in := range []Input{
		{Subject: "Weekly Digest"},
		{HTML: "   \n\t ", Text: "  ", Subject: "Weekly Digest"},
		{HTML: "<p>too short</p>", Subject: "Weekly Digest"},
	} {
		if got := Extract(in); len(got) != 0 {
			t.Fatalf("expected no articles for %+v, got %+v", in, got)
		}
	}
}

func TestExtractThresholdIsFiftyRunes(t *testing.T) {
	t.Parallel()

	if got := Extract(Input{Text: strings.Repeat("a", 49), Subject: "s"}); len(got) != 0 {
		t.Fatal("49 runes must not produce an article")
	}
	if got := Extract(Input{Text: strings.Repeat("a", 50), Subject: "s"}); len(got) != 1 {
		t.Fatal("50 runes must produce an article")
	}
}

func TestExtractMalformedHTML(t *testing.T) {
	t.Parallel()

	html := `<h2>Unclosed headline that keeps going <p><script>document.write("x")` +
		strings.Repeat(" filler", 20)
	got := Extract(Input{HTML: html, Subject: "Broken"})
	if len(got) > MaxArticles {
		t.Fatalf("bound violated: %d", len(got))
	}
}

func TestShortTitlesAreIgnored(t *testing.T) {
	t.Parallel()

	html := `<h2>Too short</h2><h2>` + strings.Repeat("y", 250) + `</h2>`
	if got := Extract(Input{HTML: html, Subject: "s"}); len(got) != 1 || got[0].Title != "s" {
		t.Fatalf("expected subject fallback, got %+v", got)
	}
}
