package domain

import (
	"regexp"
	"strings"
)

// RequestMeta is the subset of request metadata the bot heuristics look at.
type RequestMeta struct {
	Path           string
	UserAgent      string
	Accept         string
	AcceptLanguage string
	AcceptEncoding string
	Referer        string
}

const (
	scoreMissingUserAgent = 15
	scoreAutomationAgent  = 25
	scoreHeadlessAgent    = 30
	scoreMissingHeader    = 5
	scoreMissingReferer   = 10
	scoreBareCurlAgent    = 25
)

var (
	automationAgentPattern = regexp.MustCompile(`(?i)bot|crawler|scraper|curl|wget|python`)
	headlessAgentPattern   = regexp.MustCompile(`(?i)headless|phantom|zombie`)
)

// HealthPath is exempt from the referer rule; probes never send one.
const HealthPath = "/health"

// ScoreRequest applies the fixed additive rule set. Every rule fires at most once,
// and the result does not depend on rule order.
func ScoreRequest(meta RequestMeta) int {
	score := 0
	ua := strings.TrimSpace(meta.UserAgent)

	if ua == "" {
		score += scoreMissingUserAgent
	}
	if isAutomationAgent(ua) {
		score += scoreAutomationAgent
	}
	if headlessAgentPattern.MatchString(ua) {
		score += scoreHeadlessAgent
	}
	if strings.TrimSpace(meta.Accept) == "" {
		score += scoreMissingHeader
	}
	if strings.TrimSpace(meta.AcceptLanguage) == "" {
		score += scoreMissingHeader
	}
	if strings.TrimSpace(meta.AcceptEncoding) == "" {
		score += scoreMissingHeader
	}
	if strings.TrimSpace(meta.Referer) == "" && meta.Path != HealthPath {
		score += scoreMissingReferer
	}
	if strings.EqualFold(ua, "curl") {
		score += scoreBareCurlAgent
	}
	return score
}

// isAutomationAgent matches common client libraries, plus "java" when it is
// not the start of "javascript".
func isAutomationAgent(ua string) bool {
	if automationAgentPattern.MatchString(ua) {
		return true
	}
	lower := strings.ToLower(ua)
	for i := 0; ; {
		idx := strings.Index(lower[i:], "java")
		if idx < 0 {
			return false
		}
		pos := i + idx + len("java")
		if !strings.HasPrefix(lower[pos:], "script") {
			return true
		}
		i = pos
	}
}
