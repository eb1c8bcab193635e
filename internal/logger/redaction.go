package logger

import (
	"io"
	"regexp"
)

type rule struct {
	re   *regexp.Regexp
	repl string
}

// Redactor scrubs credentials and inline screenshot payloads from log lines.
type Redactor struct {
	rules []rule
}

// NewRedactor creates a redactor with the default rule set.
func NewRedactor() *Redactor {
	r := &Redactor{}
	for _, p := range []string{
		`sk-ant-[a-zA-Z0-9_-]{20,}`,
		`sk-[a-zA-Z0-9_-]{20,}`,
		`AIza[0-9A-Za-z_-]{35}`,
		`Bearer\s+[a-zA-Z0-9._-]+`,
		`secret["\s:=]+[^\s",}]+`,
		`token["\s:=]+[a-zA-Z0-9._-]{20,}`,
	} {
		r.rules = append(r.rules, rule{re: regexp.MustCompile(p), repl: "[REDACTED]"})
	}
	// Screenshots travel as data URLs; keep the media type, drop the bytes.
	r.rules = append(r.rules, rule{
		re:   regexp.MustCompile(`(data:image/[a-z]+;base64,)[A-Za-z0-9+/=]{16,}`),
		repl: "${1}[…]",
	})
	return r
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.rules = append(r.rules, rule{re: re, repl: "[REDACTED]"})
	return nil
}

// Redact applies every rule to s.
func (r *Redactor) Redact(s string) string {
	for _, rl := range r.rules {
		s = rl.re.ReplaceAllString(s, rl.repl)
	}
	return s
}

// Wrap returns a writer that redacts before forwarding to w.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{writer: w, redactor: r}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success so zerolog does not treat a shorter redacted
// line as a short write.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
