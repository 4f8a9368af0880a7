// Package extract implements verification code extraction from email
// content. Extraction is a pure function over the subject and body of a
// message, trying an ordered list of patterns from most specific to least
// specific so that labeled codes always win over bare token scans.
package extract

import (
	"fmt"
	"regexp"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// codeLabel matches the set of words that commonly label a verification
// code, including the CJK synonyms seen in localized provider mail.
const codeLabel = `(?:验证码|验证代码|校验码|code)`

// htmlTagPattern strips markup so HTML bodies can be scanned as plain text.
// This is a best effort flattening, not a real HTML parser.
var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// subjectPatterns are tried against the subject alone before anything else.
// Subjects are short and high signal, so a hit here is very unlikely to be a
// false positive.
var subjectPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)verification code is\s+([A-Z0-9]{5,6})`),
	regexp.MustCompile(`(?i)your verification code is\s+([A-Z0-9]{5,6})`),
	regexp.MustCompile(`(?i)verification code is:?\s*([A-Z0-9]{4,8})`),
	regexp.MustCompile(`(?i)code is:?\s*([A-Z0-9]{4,8})`),
	regexp.MustCompile(`(?i)code:?\s*([A-Z0-9]{4,8})`),
}

// Extractor scans message content for a verification code. The zero value is
// not usable; construct with New.
type Extractor struct {
	// combinedPatterns run against subject+body in strict priority
	// order. The first capture wins.
	combinedPatterns []*regexp.Regexp
}

// New builds an Extractor whose labeled patterns accept tokens between
// minLen and maxLen characters.
func New(minLen, maxLen int) *Extractor {
	alnum := fmt.Sprintf(`[A-Za-z0-9]{%d,%d}`, minLen, maxLen)
	digits := fmt.Sprintf(`\d{%d,%d}`, minLen, maxLen)

	return &Extractor{
		combinedPatterns: []*regexp.Regexp{
			// Label, separator, token.
			regexp.MustCompile(fmt.Sprintf(
				`(?i)%s[^\w\d]*[：:]\s*(%s)`, codeLabel,
				alnum,
			)),

			// Label directly followed by a token.
			regexp.MustCompile(fmt.Sprintf(
				`(?i)%s[^\w\d]*?(%s)`, codeLabel, alnum,
			)),

			// "your <label> <token>" phrasing.
			regexp.MustCompile(fmt.Sprintf(
				`(?i)(?:your|您的|你的)[^\w\d]*%s[^\w\d]*?(%s)`,
				codeLabel, alnum,
			)),

			// Digit-only variants of the labeled patterns.
			regexp.MustCompile(fmt.Sprintf(
				`(?i)%s[^\w\d]*[：:]\s*(%s)`, codeLabel,
				digits,
			)),
			regexp.MustCompile(fmt.Sprintf(
				`(?i)%s[^\w\d]*?(%s)`, codeLabel, digits,
			)),

			// A bare standalone 6 digit token, the most common
			// unlabeled format.
			regexp.MustCompile(`(?:^|\s)(\d{6})(?:\s|$)`),

			// Literal English phrasings.
			regexp.MustCompile(
				`(?i)verification code is\s+([A-Za-z0-9]{4,8})`,
			),
			regexp.MustCompile(
				`(?i)your code is\s+([A-Za-z0-9]{4,8})`,
			),
			regexp.MustCompile(
				`(?i)code is\s+([A-Za-z0-9]{4,8})`,
			),
			regexp.MustCompile(
				`(?i)verification code is\s+([A-Z0-9]{5,6})`,
			),

			// Last resort: any standalone alphanumeric token of the
			// right length.
			regexp.MustCompile(fmt.Sprintf(
				`(?:^|\s)(%s)(?:\s|$)`, alnum,
			)),
		},
	}
}

// Extract scans the subject and text/HTML bodies for a verification code.
// The HTML body, if present, is flattened and appended to the text body. The
// first pattern hit wins; extraction returns None only when every pattern in
// the full ordered list misses.
func (e *Extractor) Extract(subject, text, html string) fn.Option[string] {
	content := text
	if html != "" {
		content += " " + htmlTagPattern.ReplaceAllString(html, " ")
	}

	for _, pattern := range subjectPatterns {
		if m := pattern.FindStringSubmatch(subject); m != nil {
			return fn.Some(m[1])
		}
	}

	full := subject + " " + content
	for _, pattern := range e.combinedPatterns {
		if m := pattern.FindStringSubmatch(full); m != nil {
			return fn.Some(m[1])
		}
	}

	return fn.None[string]()
}
