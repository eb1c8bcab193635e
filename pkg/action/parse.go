package action

import (
	"regexp"
	"strings"
)

const (
	finishToken = "finish(message="
	doToken     = "do(action="
)

var (
	thinkTag  = regexp.MustCompile(`(?s)<think>(.*?)</think>`)
	answerTag = regexp.MustCompile(`(?s)<answer>(.*?)</answer>`)
	// Double- or single-quoted string with backslash escapes.
	finishMessage = regexp.MustCompile(`^finish\(message=(?:"((?:[^"\\]|\\.)*)"|'((?:[^'\\]|\\.)*)')`)
)

// SplitRationaleAndAnswer separates the model's reasoning from the call it
// wants executed. The first rule that applies wins:
//  1. a finish call: split before its last occurrence
//  2. a do call: split before its last occurrence
//  3. <think>/<answer> tags
//  4. the whole text is the answer
func SplitRationaleAndAnswer(raw string) (rationale, answer string) {
	text := strings.TrimSpace(raw)

	for _, token := range []string{finishToken, doToken} {
		if i := strings.LastIndex(text, token); i >= 0 {
			return cleanRationale(text[:i]), strings.TrimSpace(text[i:])
		}
	}

	think := thinkTag.FindStringSubmatch(text)
	if m := answerTag.FindStringSubmatch(text); m != nil {
		if think != nil {
			rationale = strings.TrimSpace(think[1])
		}
		return rationale, strings.TrimSpace(m[1])
	}
	if think != nil {
		end := strings.Index(text, "</think>") + len("</think>")
		return strings.TrimSpace(think[1]), strings.TrimSpace(text[end:])
	}
	return "", text
}

// cleanRationale drops tag fragments a model may leave in front of the call.
func cleanRationale(s string) string {
	s = strings.NewReplacer("<think>", "", "</think>", "", "<answer>", "").Replace(s)
	return strings.TrimSpace(s)
}

// Parse extracts the last finish or do call from answer.
func Parse(answer string) Parsed {
	fi := strings.LastIndex(answer, finishToken)
	di := strings.LastIndex(answer, doToken)

	switch {
	case fi < 0 && di < 0:
		return Unknown{Raw: answer}
	case fi > di:
		return parseFinish(answer[fi:])
	default:
		return parseDo(answer[di+len("do("):])
	}
}

func parseFinish(call string) Finish {
	m := finishMessage.FindStringSubmatch(call)
	if m == nil {
		return Finish{}
	}
	if strings.HasPrefix(call[len(finishToken):], "'") {
		return Finish{Message: unescape(m[2])}
	}
	return Finish{Message: unescape(m[1])}
}

// parseDo reads key=value pairs up to the closing parenthesis. Malformed
// pairs are skipped rather than rejected.
func parseDo(args string) Do {
	fields := make(map[string]string)
	s := scanner{src: args}

	for {
		s.skip(" \t\r\n,")
		if s.done() || s.peek() == ')' {
			break
		}
		key, ok := s.key()
		if !ok {
			continue
		}
		s.skip(" \t")
		fields[key] = s.value()
	}

	name := fields["action"]
	delete(fields, "action")
	return Do{Name: name, Fields: fields}
}

type scanner struct {
	src string
	pos int
}

func (s *scanner) done() bool { return s.pos >= len(s.src) }
func (s *scanner) peek() byte { return s.src[s.pos] }

func (s *scanner) skip(set string) {
	for !s.done() && strings.IndexByte(set, s.peek()) >= 0 {
		s.pos++
	}
}

// key reads an identifier followed by '='. On failure it consumes the
// offending token so the caller makes progress.
func (s *scanner) key() (string, bool) {
	start := s.pos
	for !s.done() && isKeyByte(s.peek()) {
		s.pos++
	}
	key := s.src[start:s.pos]
	s.skip(" \t")
	if key == "" || s.done() || s.peek() != '=' {
		for !s.done() && s.peek() != ',' && s.peek() != ')' {
			s.pos++
		}
		return "", false
	}
	s.pos++
	return key, true
}

func isKeyByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func (s *scanner) value() string {
	if s.done() {
		return ""
	}
	switch c := s.peek(); c {
	case '[':
		return s.bracketed()
	case '"', '\'':
		return s.quoted(c)
	default:
		start := s.pos
		for !s.done() && s.peek() != ',' && s.peek() != ')' {
			s.pos++
		}
		return strings.TrimSpace(s.src[start:s.pos])
	}
}

// bracketed returns a [...] list including its brackets. An unterminated
// list runs to the end of input.
func (s *scanner) bracketed() string {
	start := s.pos
	depth := 0
	for !s.done() {
		switch s.peek() {
		case '[':
			depth++
		case ']':
			depth--
		}
		s.pos++
		if depth == 0 {
			break
		}
	}
	return s.src[start:s.pos]
}

func (s *scanner) quoted(q byte) string {
	s.pos++
	var b strings.Builder
	for !s.done() {
		c := s.peek()
		s.pos++
		switch {
		case c == '\\' && !s.done():
			b.WriteByte('\\')
			b.WriteByte(s.peek())
			s.pos++
		case c == q:
			return unescape(b.String())
		default:
			b.WriteByte(c)
		}
	}
	return unescape(b.String())
}

var escapes = strings.NewReplacer(`\\`, `\`, `\"`, `"`, `\'`, `'`, `\n`, "\n", `\t`, "\t")

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	return escapes.Replace(s)
}
