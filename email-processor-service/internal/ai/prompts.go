package ai

import (
	"fmt"
	"strings"
)

var summaryInstructions = map[SummaryLength]string{
	SummaryShort:  "in 1-2 sentences (maximum 50 words)",
	SummaryMedium: "in 2-3 sentences (maximum 100 words)",
	SummaryLong:   "in 3-5 sentences (maximum 200 words)",
}

var titleInstructions = map[TitleStyle]string{
	TitleNews:         "Write an attention-grabbing news headline",
	TitleCasual:       "Write a friendly, conversational title",
	TitleProfessional: "Write a formal, professional title",
}

func summaryPrompt(content string, length SummaryLength) string {
	return fmt.Sprintf("Summarize the following newsletter article %s. Focus on the key points and takeaways.\n\n%s",
		summaryInstructions[length], content)
}

func categoryPrompt(content string) string {
	return fmt.Sprintf("Assign the content below to exactly ONE of these categories: %s\n\nContent: %s\n\n"+
		"Answer with the category name only.", strings.Join(Categories, ", "), head(content, 500))
}

func interestPrompt(content string, interests []string) string {
	var b strings.Builder
	b.WriteString("Rate how interesting this content is for a general reader on a scale from 0.0 to 1.0, where " +
		"0.0 means irrelevant, 0.5 means average and 1.0 means exceptionally engaging. " +
		"Weigh novelty, practical value, timeliness and clarity.\n\n")
	fmt.Fprintf(&b, "Content: %s", head(content, 400))
	if len(interests) > 0 {
		fmt.Fprintf(&b, "\n\nReader interests: %s\nFactor in how well the content matches them.", strings.Join(interests, ", "))
	}
	b.WriteString("\n\nAnswer with a single decimal number between 0.0 and 1.0 only.")
	return b.String()
}

func keywordsPrompt(content string, max int) string {
	return fmt.Sprintf("List the %d most important keywords or key phrases of this content.\n\nContent: %s\n\n"+
		"Answer with a comma-separated list only.", max, head(content, 500))
}

func titlePrompt(content string, style TitleStyle) string {
	instr, ok := titleInstructions[style]
	if !ok {
		instr = titleInstructions[TitleNews]
	}
	return fmt.Sprintf("%s for this content, under 60 characters.\n\nContent: %s\n\n"+
		"Answer with the title only, without quotes.", instr, head(content, 300))
}

func spamPrompt(content string) string {
	return fmt.Sprintf("Is this content mainly promotional, spam or low-quality marketing (pushy sales language, "+
		"many calls to action, misleading claims, pure advertising)?\n\nContent: %s\n\n"+
		`Answer "true" or "false" only.`, head(content, 400))
}

func thumbnailPrompt(content string) string {
	return "Create a clean, professional thumbnail for a newsletter article about: " + head(content, 200)
}

// head returns the first n runes of s.
func head(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
