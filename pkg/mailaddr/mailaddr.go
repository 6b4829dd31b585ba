// Package mailaddr builds per-user forwarding addresses and parses sender headers.
package mailaddr

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	angleAddrRe   = regexp.MustCompile(`<(.+?)>`)
	bareAddrRe    = regexp.MustCompile(`(\S+@\S+)`)
	displayNameRe = regexp.MustCompile(`^(.+?)\s*<.+>$`)
	validRe       = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	systemLocalRe = regexp.MustCompile(`^user-([a-f0-9]{8})-(\d{4})(?:-[a-f0-9]{4})?$`)
)

// Generator issues forwarding addresses of the form user-<hash8>-<nnnn>@<domain>.
type Generator struct {
	Domain string
	Now    func() time.Time
}

// Generate returns the candidate address for userID without checking for collisions.
func (g Generator) Generate(userID string) string {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	millis := strconv.FormatInt(now().UnixMilli(), 10)
	if len(millis) > 4 {
		millis = millis[len(millis)-4:]
	}
	return fmt.Sprintf("user-%s-%s@%s", UserHash(userID), millis, g.Domain)
}

// Allocate generates an address and appends a random suffix when exists reports a collision.
func (g Generator) Allocate(ctx context.Context, userID string, exists func(context.Context, string) (bool, error)) (string, error) {
	addr := g.Generate(userID)
	taken, err := exists(ctx, addr)
	if err != nil {
		return "", fmt.Errorf("check address %s: %w", addr, err)
	}
	if !taken {
		return addr, nil
	}

	extra := make([]byte, 2)
	if _, err := rand.Read(extra); err != nil {
		return "", err
	}
	local, domain, _ := strings.Cut(addr, "@")
	return fmt.Sprintf("%s-%s@%s", local, hex.EncodeToString(extra), domain), nil
}

// UserHash is the first 8 hex chars of md5(userID).
func UserHash(userID string) string {
	sum := md5.Sum([]byte(userID))
	return hex.EncodeToString(sum[:])[:8]
}

// Parse returns the user hash embedded in a forwarding address on domain.
func Parse(addr, domain string) (userHash string, ok bool) {
	addr = strings.ToLower(strings.TrimSpace(ExtractEmail(addr)))
	local, d, found := strings.Cut(addr, "@")
	if !found || d != strings.ToLower(domain) {
		return "", false
	}
	m := systemLocalRe.FindStringSubmatch(local)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// IsSystem reports whether addr belongs to the forwarding domain.
func IsSystem(addr, domain string) bool {
	return strings.HasSuffix(strings.ToLower(ExtractEmail(addr)), "@"+strings.ToLower(domain))
}

// ExtractEmail pulls the address out of a From/To header value.
func ExtractEmail(header string) string {
	if m := angleAddrRe.FindStringSubmatch(header); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := bareAddrRe.FindStringSubmatch(header); m != nil {
		return m[1]
	}
	return strings.TrimSpace(header)
}

// DisplayName returns the unquoted name of a `"Name" <addr>` header, or "".
func DisplayName(header string) string {
	m := displayNameRe.FindStringSubmatch(strings.TrimSpace(header))
	if m == nil {
		return ""
	}
	return strings.TrimSpace(strings.Trim(m[1], `"'`))
}

// Domain returns the lowercased part after the last '@'.
func Domain(addr string) string {
	addr = ExtractEmail(addr)
	i := strings.LastIndex(addr, "@")
	if i < 0 {
		return ""
	}
	return strings.ToLower(addr[i+1:])
}

func IsValid(addr string) bool {
	return validRe.MatchString(addr)
}

// NewsletterNameFromDomain turns morningbrew.com into Morningbrew.
func NewsletterNameFromDomain(domain string) string {
	label, _, _ := strings.Cut(domain, ".")
	if label == "" {
		return "Unknown Newsletter"
	}
	return strings.ToUpper(label[:1]) + label[1:]
}
