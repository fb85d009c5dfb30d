package converters

import (
	"bytes"
	"image"
	"image/draw"
	"math"
	"strconv"
)

// matrix is a PDF transformation matrix [a b c d e f].
type matrix [6]float64

var identity = matrix{1, 0, 0, 1, 0, 0}

// mul returns m × n, the matrix applying m first and then n.
func (m matrix) mul(n matrix) matrix {
	return matrix{
		m[0]*n[0] + m[1]*n[2],
		m[0]*n[1] + m[1]*n[3],
		m[2]*n[0] + m[3]*n[2],
		m[2]*n[1] + m[3]*n[3],
		m[4]*n[0] + m[5]*n[2] + n[4],
		m[4]*n[1] + m[5]*n[3] + n[5],
	}
}

func (m matrix) apply(x, y float64) (float64, float64) {
	return m[0]*x + m[2]*y + m[4], m[1]*x + m[3]*y + m[5]
}

// region is a rectangle in PDF user space (origin bottom-left, points).
type region struct {
	X0, Y0, X1, Y1 float64
}

func (r region) width() float64  { return r.X1 - r.X0 }
func (r region) height() float64 { return r.Y1 - r.Y0 }

// regionTooSmall reports placements below 10x10 points, which are usually
// rules, bullets or spacer images.
func regionTooSmall(r region) bool {
	return int(r.width()) < 10 || int(r.height()) < 10
}

// unitSquareBounds maps the image unit square through ctm.
func unitSquareBounds(ctm matrix) region {
	r := region{X0: math.Inf(1), Y0: math.Inf(1), X1: math.Inf(-1), Y1: math.Inf(-1)}
	for _, p := range [4][2]float64{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
		x, y := ctm.apply(p[0], p[1])
		r.X0, r.X1 = math.Min(r.X0, x), math.Max(r.X1, x)
		r.Y0, r.Y1 = math.Min(r.Y0, y), math.Max(r.Y1, y)
	}
	return r
}

// scanImagePlacements walks a page content stream and returns where each
// image XObject in names is painted, in paint order. Inline images and form
// XObjects are ignored.
func scanImagePlacements(content []byte, names map[string]bool) []region {
	var (
		ctm      = identity
		stack    []matrix
		operands []string
		out      []region
	)
	lex := &contentLexer{buf: content}
	for {
		tok, kind, ok := lex.next()
		if !ok {
			return out
		}
		switch kind {
		case tokOperand:
			operands = append(operands, tok)
			continue
		case tokSkip:
			continue
		}

		switch tok {
		case "q":
			stack = append(stack, ctm)
		case "Q":
			if n := len(stack); n > 0 {
				ctm, stack = stack[n-1], stack[:n-1]
			}
		case "cm":
			if m, ok := parseMatrix(operands); ok {
				ctm = m.mul(ctm)
			}
		case "Do":
			if len(operands) > 0 {
				name := operands[len(operands)-1]
				if len(name) > 1 && name[0] == '/' && names[name[1:]] {
					out = append(out, unitSquareBounds(ctm))
				}
			}
		case "ID":
			lex.skipInlineImage()
		}
		operands = operands[:0]
	}
}

func parseMatrix(operands []string) (matrix, bool) {
	if len(operands) < 6 {
		return matrix{}, false
	}
	var m matrix
	for i, s := range operands[len(operands)-6:] {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return matrix{}, false
		}
		m[i] = v
	}
	return m, true
}

type tokenKind int

const (
	tokOperator tokenKind = iota
	tokOperand
	tokSkip
)

// contentLexer is a minimal tokenizer for page content streams. Strings,
// dictionaries and arrays are skipped; only numbers, names and operators
// are reported.
type contentLexer struct {
	buf []byte
	pos int
}

func isPDFSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\f', 0:
		return true
	}
	return false
}

func isPDFDelim(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func (l *contentLexer) next() (string, tokenKind, bool) {
	for l.pos < len(l.buf) {
		c := l.buf[l.pos]
		switch {
		case isPDFSpace(c):
			l.pos++
		case c == '%':
			for l.pos < len(l.buf) && l.buf[l.pos] != '\n' && l.buf[l.pos] != '\r' {
				l.pos++
			}
		case c == '(':
			l.skipString()
			return "", tokSkip, true
		case c == '<':
			if l.pos+1 < len(l.buf) && l.buf[l.pos+1] == '<' {
				l.pos += 2
			} else {
				for l.pos < len(l.buf) && l.buf[l.pos] != '>' {
					l.pos++
				}
				l.pos++
			}
			return "", tokSkip, true
		case c == '>' || c == '[' || c == ']' || c == '{' || c == '}' || c == ')':
			l.pos++
			return "", tokSkip, true
		case c == '/':
			start := l.pos
			l.pos++
			l.readRegular()
			return string(l.buf[start:l.pos]), tokOperand, true
		default:
			start := l.pos
			l.readRegular()
			if l.pos == start {
				l.pos++
				continue
			}
			tok := string(l.buf[start:l.pos])
			if _, err := strconv.ParseFloat(tok, 64); err == nil {
				return tok, tokOperand, true
			}
			return tok, tokOperator, true
		}
	}
	return "", tokSkip, false
}

func (l *contentLexer) readRegular() {
	for l.pos < len(l.buf) && !isPDFSpace(l.buf[l.pos]) && !isPDFDelim(l.buf[l.pos]) {
		l.pos++
	}
}

func (l *contentLexer) skipString() {
	depth := 0
	for l.pos < len(l.buf) {
		switch l.buf[l.pos] {
		case '\\':
			l.pos++
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				l.pos++
				return
			}
		}
		l.pos++
	}
}

// skipInlineImage advances past binary inline image data up to "EI".
func (l *contentLexer) skipInlineImage() {
	for l.pos < len(l.buf) {
		i := bytes.Index(l.buf[l.pos:], []byte("EI"))
		if i < 0 {
			l.pos = len(l.buf)
			return
		}
		at := l.pos + i
		l.pos = at + 2
		before := at == 0 || isPDFSpace(l.buf[at-1])
		after := l.pos >= len(l.buf) || isPDFSpace(l.buf[l.pos])
		if before && after {
			return
		}
	}
}

// cropRegion cuts r out of a page rendered at dpi. The page image origin is
// top-left, so Y is flipped against the page height in points.
func cropRegion(page image.Image, pageHeightPt, dpi float64, r region) image.Image {
	scale := dpi / pointsPerInch
	rect := image.Rect(
		int(math.Floor(r.X0*scale)),
		int(math.Floor((pageHeightPt-r.Y1)*scale)),
		int(math.Ceil(r.X1*scale)),
		int(math.Ceil((pageHeightPt-r.Y0)*scale)),
	).Add(page.Bounds().Min).Intersect(page.Bounds())
	if rect.Empty() {
		return nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), page, rect.Min, draw.Src)
	return dst
}
