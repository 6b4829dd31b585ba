// Package extractor recovers discrete article candidates from newsletter bodies.
package extractor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"digestgenie/email-processor-service/internal/sanitizer"
)

const (
	MaxArticles     = 10
	maxLinks        = 20
	minFallbackText = 50
	excerptRunes    = 300
	fallbackTitle   = "Newsletter Update"
)

var titleClassRe = regexp.MustCompile(`(?i)title|headline|header|subject`)

var utilityLinkRe = regexp.MustCompile(`(?i)unsubscribe|preferences|settings|privacy|terms|` +
	`facebook\.com|twitter\.com|linkedin\.com|instagram\.com|mailto:|\.png$|\.jpg$|\.gif$`)

type Input struct {
	Text    string
	HTML    string
	Subject string
}

type Candidate struct {
	Title   string
	Content string
	Excerpt string
	URL     string
}

type link struct {
	url  string
	text string
}

// Extract never returns more than MaxArticles candidates and never fails: a parse failure
// degrades to the single subject-titled fallback.
func Extract(in Input) (out []Candidate) {
	defer func() {
		if r := recover(); r != nil {
			out = fallback(in)
		}
	}()

	if strings.TrimSpace(in.HTML) != "" {
		articles, err := fromHTML(in.HTML)
		if err != nil {
			return fallback(in)
		}
		if len(articles) > 0 {
			return capped(articles)
		}
	}
	return fallback(in)
}

// fallback emits one article carrying the whole text, but only when there is enough of it.
func fallback(in Input) []Candidate {
	text := sanitizer.CleanText(in.Text)
	if text == "" {
		text = sanitizer.StripHTML(in.HTML)
	}
	if sanitizer.RuneLen(text) < minFallbackText {
		return nil
	}
	title := strings.TrimSpace(in.Subject)
	if title == "" {
		title = fallbackTitle
	}
	return []Candidate{{
		Title:   title,
		Content: text,
		Excerpt: sanitizer.Truncate(text, excerptRunes),
	}}
}

func fromHTML(html string) ([]Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	titles, titleNodes := collectTitles(doc)
	if len(titles) == 0 {
		return nil, nil
	}
	links := collectLinks(doc)

	articles := make([]Candidate, 0, len(titles))
	for i, sel := range titleNodes {
		title := titles[i]
		content := sectionText(sel, titleNodes)
		if content == "" {
			content = title
		}
		articles = append(articles, Candidate{
			Title:   title,
			Content: content,
			Excerpt: sanitizer.Truncate(content, excerptRunes),
			URL:     pairLink(title, i, links),
		})
	}
	return articles, nil
}

// collectTitles scans headings first, then title-like classed blocks, in document order within
// each pattern.
func collectTitles(doc *goquery.Document) ([]string, []*goquery.Selection) {
	var (
		titles []string
		nodes  []*goquery.Selection
		seen   = map[string]bool{}
	)

	consider := func(_ int, sel *goquery.Selection) bool {
		if len(titles) >= MaxArticles {
			return false
		}
		inner, err := sel.Html()
		if err != nil {
			return true
		}
		title := sanitizer.StripHTML(inner)
		n := sanitizer.RuneLen(title)
		if n <= 10 || n >= 200 || seen[title] {
			return true
		}
		seen[title] = true
		titles = append(titles, title)
		nodes = append(nodes, sel)
		return true
	}

	doc.Find("h1, h2, h3, h4").EachWithBreak(consider)
	for _, tag := range []string{"div", "p", "td"} {
		doc.Find(tag + "[class]").FilterFunction(func(_ int, sel *goquery.Selection) bool {
			return titleClassRe.MatchString(sel.AttrOr("class", ""))
		}).EachWithBreak(consider)
	}
	return titles, nodes
}

func collectLinks(doc *goquery.Document) []link {
	var links []link
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if len(links) >= maxLinks {
			return false
		}
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		inner, _ := sel.Html()
		text := sanitizer.StripHTML(inner)
		if href == "" || utilityLinkRe.MatchString(href) || sanitizer.RuneLen(text) <= 5 {
			return true
		}
		links = append(links, link{url: href, text: text})
		return true
	})
	return links
}

// pairLink matches on the first word in either direction, then falls back to the link at the
// same position. Imprecise on real-world markup.
func pairLink(title string, index int, links []link) string {
	lowerTitle := strings.ToLower(title)
	titleWord := firstWord(lowerTitle)
	for _, l := range links {
		lowerText := strings.ToLower(l.text)
		if strings.Contains(lowerText, titleWord) || strings.Contains(lowerTitle, firstWord(lowerText)) {
			return l.url
		}
	}
	if index < len(links) {
		return links[index].url
	}
	return ""
}

func firstWord(s string) string {
	word, _, _ := strings.Cut(s, " ")
	return word
}

// sectionText collects the text of the siblings after a title up to the next title element.
func sectionText(title *goquery.Selection, all []*goquery.Selection) string {
	var parts []string
	title.NextAll().EachWithBreak(func(_ int, sib *goquery.Selection) bool {
		for _, other := range all {
			if sib.IsSelection(other) || sib.HasSelection(other).Length() > 0 {
				return false
			}
		}
		if html, err := goquery.OuterHtml(sib); err == nil {
			if text := sanitizer.StripHTML(html); text != "" {
				parts = append(parts, text)
			}
		}
		return true
	})
	return strings.Join(parts, " ")
}

func capped(articles []Candidate) []Candidate {
	if len(articles) > MaxArticles {
		return articles[:MaxArticles]
	}
	return articles
}
