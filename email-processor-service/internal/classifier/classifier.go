// Package classifier decides whether an inbound email looks like a newsletter.
// It errs toward false positives; extraction discards emails with too little content.
package classifier

import (
	"regexp"
	"strings"

	"digestgenie/pkg/mailaddr"
)

type Reason string

const (
	ReasonKnownDomain   Reason = "known_domain"
	ReasonSenderPattern Reason = "sender_pattern"
	ReasonSubject       Reason = "subject_keyword"
	ReasonUnsubscribe   Reason = "unsubscribe"
	ReasonNone          Reason = "none"
)

var knownDomains = []string{
	"morningbrew.com",
	"techcrunch.com",
	"substack.com",
	"thehustle.co",
	"ben-evans.com",
	"stratechery.com",
	"beehiiv.com",
	"convertkit.com",
	"mailchimp.com",
	"constantcontact.com",
	"newsletter.com",
	"ghost.io",
	"buttondown.email",
	"revue.com",
	"tinyletter.com",
}

var subjectKeywords = []string{
	"newsletter", "digest", "weekly", "daily", "briefing", "roundup", "update",
	"bulletin", "dispatch", "edition", "issue", "recap", "summary", "report",
}

var senderRe = regexp.MustCompile(`(?i)no-?reply|newsletter|digest|updates?|news`)

type Result struct {
	IsNewsletter bool
	Reason       Reason
}

// Classify evaluates the rules in order and reports the first that matched.
func Classify(fromHeader, subject string) Result {
	from := strings.ToLower(fromHeader)
	subj := strings.ToLower(subject)

	if domain := mailaddr.Domain(from); domain != "" {
		for _, known := range knownDomains {
			if strings.Contains(domain, known) {
				return Result{true, ReasonKnownDomain}
			}
		}
	}

	if senderRe.MatchString(from) {
		return Result{true, ReasonSenderPattern}
	}

	for _, kw := range subjectKeywords {
		if strings.Contains(subj, kw) {
			return Result{true, ReasonSubject}
		}
	}

	if strings.Contains(subj, "unsubscribe") || strings.Contains(from, "unsubscribe") {
		return Result{true, ReasonUnsubscribe}
	}

	return Result{false, ReasonNone}
}

func IsNewsletter(fromHeader, subject string) bool {
	return Classify(fromHeader, subject).IsNewsletter
}
