// Package redact strips credentials and infrastructure details from text
// before it is logged, persisted as a job's error message or written into a
// report's failure annotation. Provider errors routinely echo request URLs
// and headers, so everything that leaves a worker goes through here.
package redact

import "regexp"

// Placeholders
const (
	RedactionPlaceholder          = "[REDACTED]"
	RedactedPathPlaceholder       = "[REDACTED_PATH]"
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedHostPlaceholder       = "[REDACTED_HOST]"
)

type rule struct {
	re          *regexp.Regexp
	replacement string
}

// rules run in order; earlier rules see the raw text.
var rules = []rule{
	// user:pass@ in postgres://, amqp://, redis:// and friends
	{regexp.MustCompile(`(?i)\b([a-z][a-z0-9+.-]*://)[^/\s:@]+:[^/\s@]+@`), "${1}" + RedactedCredentialPlaceholder + "@"},
	// signed or keyed query parameters, e.g. Gemini ?key= and presigned image URLs
	{regexp.MustCompile(`(?i)([?&](?:key|api_key|apikey|token|access_token|sig|signature|x-amz-signature|x-amz-credential|x-amz-security-token|x-goog-signature|x-goog-credential)=)[^&\s"']+`), "${1}" + RedactionPlaceholder},
	{regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._~+/=-]{8,}`), "${1}" + RedactedKeyPlaceholder},
	{regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{16,}`), RedactedKeyPlaceholder},
	{regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{30,}`), RedactedKeyPlaceholder},
	{regexp.MustCompile(`(AKIA|AccessKey(?:Id)?)([^a-zA-Z0-9])?[A-Z0-9]{8,}`), RedactedKeyPlaceholder},
	{regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`), "[REDACTED_JWT]"},
	{regexp.MustCompile(`(?i)\b(password|passwd|pwd)([=:]\s*['"]?)[^'"&\s]{3,}`), "${1}${2}" + RedactedCredentialPlaceholder},
	{regexp.MustCompile(`(?i)\b(api[_-]?key|secret|access[_-]?token)(['"\s:=]+)[A-Za-z0-9_\-.~+/]{8,}`), "${1}${2}" + RedactedKeyPlaceholder},
	// goroutine dumps from recovered panics
	{regexp.MustCompile(`(?:goroutine \d+ \[|panic:)[\s\S]*?(\n\t.*)+`), "[STACK_TRACE_REDACTED]"},
	// filesystem paths, but not URL paths
	{regexp.MustCompile(`(^|[\s"'(=])(/[\w.-]+){2,}`), "${1}" + RedactedPathPlaceholder},
	{regexp.MustCompile(`[A-Za-z]:\\[^\\\s]+(\\[^\\\s]+)+`), RedactedPathPlaceholder},
	{regexp.MustCompile(`\b\d{1,3}(?:\.\d{1,3}){3}(?::\d{1,5})?\b`), RedactedHostPlaceholder},
	{regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`(?i)\b(SELECT|INSERT|UPDATE|DELETE)\b[\s\w,*()$=.'"<>-]+?\b(FROM|INTO|SET|WHERE)\b[^;\n]*`), "[REDACTED_SQL]"},
}

// String returns input with every sensitive fragment replaced.
func String(input string) string {
	if input == "" {
		return input
	}
	for _, r := range rules {
		input = r.re.ReplaceAllString(input, r.replacement)
	}
	return input
}

// Error redacts err.Error(); a nil error yields "".
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
