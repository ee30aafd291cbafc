package extract

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// contentText turns one page content stream into text lines.
// Text shown on the same baseline is joined; a horizontal move between show
// operators or a wide TJ gap becomes a two-space cell separator.
func contentText(content string) string {
	var (
		out      strings.Builder
		line     strings.Builder
		operands []operand
		tm       textPosition
		shown    *textPosition
		forceBr  bool
	)
	newline := func() {
		if s := strings.TrimRight(line.String(), " "); s != "" {
			out.WriteString(s)
			out.WriteByte('\n')
		}
		line.Reset()
	}
	show := func(text string) {
		if text == "" {
			return
		}
		switch {
		case forceBr || (shown != nil && math.Abs(shown.y-tm.y) > 0.5):
			newline()
		case shown != nil && tm.x != shown.x && line.Len() > 0:
			line.WriteString("  ")
		}
		forceBr = false
		pos := tm
		shown = &pos
		line.WriteString(text)
	}

	i := 0
	n := len(content)
	for i < n {
		ch := content[i]
		switch {
		case isPDFSpace(ch):
			i++
		case ch == '%':
			for i < n && content[i] != '\n' && content[i] != '\r' {
				i++
			}
		case ch == '(':
			raw, end := literalString(content, i)
			operands = append(operands, operand{text: decodeLiteral(raw), isText: true})
			i = end
		case ch == '<' && i+1 < n && content[i+1] == '<':
			i += 2
		case ch == '>' && i+1 < n && content[i+1] == '>':
			i += 2
		case ch == '<':
			end := strings.IndexByte(content[i:], '>')
			if end < 0 {
				i = n
				continue
			}
			operands = append(operands, operand{text: decodeHex(content[i+1 : i+end]), isText: true})
			i += end + 1
		case ch == '[':
			text, end := textArray(content, i)
			operands = append(operands, operand{text: text, isText: true})
			i = end
		case ch == '/':
			i++
			for i < n && !isPDFSpace(content[i]) && !isPDFDelimiter(content[i]) {
				i++
			}
		case isNumberStart(ch):
			j := i + 1
			for j < n && (content[j] >= '0' && content[j] <= '9' || content[j] == '.') {
				j++
			}
			if v, err := strconv.ParseFloat(content[i:j], 64); err == nil {
				operands = append(operands, operand{num: v})
			}
			i = j
		default:
			j := i
			for j < n && !isPDFSpace(content[j]) && !isPDFDelimiter(content[j]) {
				j++
			}
			if j == i {
				i++
				continue
			}
			op := content[i:j]
			i = j
			switch op {
			case "BT":
				tm = textPosition{}
			case "T*":
				forceBr = true
			case "Tj", "TJ":
				if t, ok := lastText(operands); ok {
					show(t)
				}
			case "'", "\"":
				forceBr = true
				if t, ok := lastText(operands); ok {
					show(t)
				}
			case "Td", "TD":
				if len(operands) >= 2 {
					tm.x += operands[len(operands)-2].num
					tm.y += operands[len(operands)-1].num
				}
			case "Tm":
				if len(operands) >= 6 {
					tm.x = operands[len(operands)-2].num
					tm.y = operands[len(operands)-1].num
				}
			}
			operands = operands[:0]
		}
	}
	newline()
	return out.String()
}

type textPosition struct {
	x, y float64
}

type operand struct {
	text   string
	num    float64
	isText bool
}

func lastText(ops []operand) (string, bool) {
	for k := len(ops) - 1; k >= 0; k-- {
		if ops[k].isText {
			return ops[k].text, true
		}
	}
	return "", false
}

// textArray reads a TJ array starting at '['. Kerning adjustments wider
// than a word space become spaces.
func textArray(content string, start int) (string, int) {
	var b strings.Builder
	i := start + 1
	n := len(content)
	for i < n {
		ch := content[i]
		switch {
		case ch == ']':
			return b.String(), i + 1
		case ch == '(':
			raw, end := literalString(content, i)
			b.WriteString(decodeLiteral(raw))
			i = end
		case ch == '<':
			end := strings.IndexByte(content[i:], '>')
			if end < 0 {
				return b.String(), n
			}
			b.WriteString(decodeHex(content[i+1 : i+end]))
			i += end + 1
		case isNumberStart(ch):
			j := i + 1
			for j < n && (content[j] >= '0' && content[j] <= '9' || content[j] == '.') {
				j++
			}
			if v, err := strconv.ParseFloat(content[i:j], 64); err == nil {
				switch {
				case v <= -1500:
					b.WriteString("  ")
				case v <= -250:
					b.WriteString(" ")
				}
			}
			i = j
		default:
			i++
		}
	}
	return b.String(), n
}

// literalString returns the raw body of a parenthesized string and the index after it.
func literalString(content string, start int) (string, int) {
	var b strings.Builder
	depth := 0
	i := start
	for i < len(content) {
		ch := content[i]
		if ch == '\\' && i+1 < len(content) {
			b.WriteByte(ch)
			b.WriteByte(content[i+1])
			i += 2
			continue
		}
		switch ch {
		case '(':
			depth++
			if depth > 1 {
				b.WriteByte(ch)
			}
		case ')':
			depth--
			if depth == 0 {
				return b.String(), i + 1
			}
			b.WriteByte(ch)
		default:
			b.WriteByte(ch)
		}
		i++
	}
	return b.String(), i
}

func decodeLiteral(s string) string {
	raw := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			raw = append(raw, s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			raw = append(raw, '\n')
		case 'r':
			raw = append(raw, '\r')
		case 't':
			raw = append(raw, '\t')
		case 'b':
			raw = append(raw, '\b')
		case 'f':
			raw = append(raw, '\f')
		case '\n', '\r':
			// line continuation
		default:
			if s[i] >= '0' && s[i] <= '7' {
				j := i
				for j < len(s) && j < i+3 && s[j] >= '0' && s[j] <= '7' {
					j++
				}
				v, _ := strconv.ParseUint(s[i:j], 8, 8)
				raw = append(raw, byte(v))
				i = j - 1
				continue
			}
			raw = append(raw, s[i])
		}
	}
	return decodeBytes(raw)
}

func decodeHex(h string) string {
	h = strings.Map(func(r rune) rune {
		if isPDFSpace(byte(r)) {
			return -1
		}
		return r
	}, h)
	if len(h)%2 == 1 {
		h += "0"
	}
	raw := make([]byte, 0, len(h)/2)
	for i := 0; i+1 < len(h); i += 2 {
		v, err := strconv.ParseUint(h[i:i+2], 16, 8)
		if err != nil {
			return ""
		}
		raw = append(raw, byte(v))
	}
	return decodeBytes(raw)
}

// decodeBytes handles UTF-16BE (with BOM), UTF-8 and falls back to Windows-1252.
func decodeBytes(raw []byte) string {
	if len(raw) >= 2 && raw[0] == 0xFE && raw[1] == 0xFF {
		s, err := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder().Bytes(raw)
		if err == nil {
			return string(s)
		}
	}
	if utf8.Valid(raw) {
		return string(raw)
	}
	s, err := charmap.Windows1252.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(s)
}

func isPDFSpace(ch byte) bool {
	return ch == ' ' || ch == '\n' || ch == '\r' || ch == '\t' || ch == '\f' || ch == 0
}

func isPDFDelimiter(ch byte) bool {
	switch ch {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func isNumberStart(ch byte) bool {
	return ch >= '0' && ch <= '9' || ch == '-' || ch == '+' || ch == '.'
}
