// Package escpos builds ESC/POS command buffers for thermal and label printers.
//
// A Builder never fails: out-of-range arguments are clamped and text is
// sanitized, so every directive appends zero or more bytes and returns the
// builder for chaining.
package escpos

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/carverauto/posedge/pkg/models"
)

const (
	esc = 0x1B
	gs  = 0x1D
	dle = 0x10
	eot = 0x04
	lf  = 0x0A

	minFontScale = 1
	maxFontScale = 8
	minQRSize    = 1
	maxQRSize    = 16
	maxByteArg   = 255

	// code128 data is prefixed with the "{B" code-set selector.
	maxBarcodeData = maxByteArg - 2
	maxQRData      = 7089

	unencodable = '?'
)

// Align is the horizontal justification of printed text.
type Align int

const (
	AlignLeft Align = iota
	AlignCenter
	AlignRight
)

// StatusKind selects one of the real-time status requests.
type StatusKind byte

const (
	StatusGeneral      StatusKind = 1
	StatusOfflineCause StatusKind = 2
	StatusErrorCause   StatusKind = 3
	StatusPaper        StatusKind = 4
)

// Builder accumulates printer directives into a byte buffer.
type Builder struct {
	buf     []byte
	dialect models.Dialect
	width   int
}

// New returns a Builder for the given dialect and paper width.
func New(dialect models.Dialect, paper models.PaperWidth) *Builder {
	return &Builder{
		buf:     make([]byte, 0, 256),
		dialect: dialect,
		width:   paper.CharsPerLine(),
	}
}

// ForDevice returns a Builder matching the device's dialect and paper.
func ForDevice(d *models.DeviceProfile) *Builder {
	return New(d.Dialect, d.PaperWidth)
}

// Dialect reports the dialect the builder encodes for.
func (b *Builder) Dialect() models.Dialect { return b.dialect }

// LineWidth is the characters-per-line used by column helpers.
func (b *Builder) LineWidth() int { return b.width }

// Len is the number of bytes accumulated so far.
func (b *Builder) Len() int { return len(b.buf) }

// Build returns a copy of the accumulated bytes.
func (b *Builder) Build() []byte {
	out := make([]byte, len(b.buf))
	copy(out, b.buf)

	return out
}

// Clear resets the buffer to zero length, keeping its capacity.
func (b *Builder) Clear() *Builder {
	b.buf = b.buf[:0]
	return b
}

func (b *Builder) raw(p ...byte) *Builder {
	b.buf = append(b.buf, p...)
	return b
}

func (b *Builder) Initialize() *Builder {
	return b.raw(esc, '@')
}

func (b *Builder) SetBold(on bool) *Builder {
	return b.raw(esc, 'E', flag(on))
}

func (b *Builder) SetUnderline(on bool) *Builder {
	return b.raw(esc, '-', flag(on))
}

// SetFontSize selects character scaling; both factors are clamped to 1..8.
func (b *Builder) SetFontSize(width, height int) *Builder {
	return b.raw(gs, '!', FontSizeByte(width, height))
}

// FontSizeByte is the GS ! argument for the clamped width and height.
func FontSizeByte(width, height int) byte {
	w := clamp(width, minFontScale, maxFontScale)
	h := clamp(height, minFontScale, maxFontScale)

	return byte((w-1)<<4 | (h - 1))
}

func (b *Builder) SetAlign(a Align) *Builder {
	switch a {
	case AlignLeft:
		return b.raw(esc, 'a', 0)
	case AlignCenter:
		return b.raw(esc, 'a', 1)
	case AlignRight:
		return b.raw(esc, 'a', 2)
	}

	return b.raw(esc, 'a', 0)
}

// PrintText appends s encoded for the dialect, without a line feed.
func (b *Builder) PrintText(s string) *Builder {
	b.buf = b.encodeText(b.buf, s)
	return b
}

// PrintLine appends s followed by a line feed.
func (b *Builder) PrintLine(s string) *Builder {
	return b.PrintText(s).raw(lf)
}

// FeedLines prints the buffer and feeds n lines (0..255).
func (b *Builder) FeedLines(n int) *Builder {
	return b.raw(esc, 'd', byte(clamp(n, 0, maxByteArg)))
}

// FeedDots prints the buffer and feeds n motion units (0..255).
func (b *Builder) FeedDots(n int) *Builder {
	return b.raw(esc, 'J', byte(clamp(n, 0, maxByteArg)))
}

// Cut appends a full or partial cut in the dialect's encoding.
func (b *Builder) Cut(partial bool) *Builder {
	switch b.dialect {
	case models.DialectFull:
		if partial {
			return b.raw(gs, 'V', 'B', 3)
		}

		return b.raw(gs, 'V', 'A', 3)
	case models.DialectLabel:
		if partial {
			return b.raw(gs, 'V', 1)
		}

		return b.raw(gs, 'V', 0)
	}

	return b
}

// OpenDrawer kicks the drawer on connector pin 0 (pin 2) or 1 (pin 5).
func (b *Builder) OpenDrawer(pin int) *Builder {
	p := byte(0)
	if pin != 0 {
		p = 1
	}

	return b.raw(esc, 'p', p, 0x19, 0xFA)
}

// Buzz sounds the buzzer with a short or long pattern.
func (b *Builder) Buzz(short bool) *Builder {
	if short {
		return b.raw(esc, 'B', 2, 5)
	}

	return b.raw(esc, 'B', 5, 9)
}

// RequestStatus appends a DLE EOT real-time status request.
func (b *Builder) RequestStatus(kind StatusKind) *Builder {
	k := kind
	if k < StatusGeneral || k > StatusPaper {
		k = StatusGeneral
	}

	return b.raw(dle, eot, byte(k))
}

// PrintColumns prints left and right justified across the line width.
func (b *Builder) PrintColumns(left, right string) *Builder {
	return b.PrintLine(FormatColumns(b.width, left, right))
}

// PrintColumns3 prints three columns across the line width.
func (b *Builder) PrintColumns3(left, middle, right string) *Builder {
	return b.PrintLine(FormatColumns3(b.width, left, middle, right))
}

// Separator prints a full-width line of ch.
func (b *Builder) Separator(ch rune) *Builder {
	return b.PrintLine(strings.Repeat(string(ch), b.width))
}

func (b *Builder) encodeText(dst []byte, s string) []byte {
	s = sanitize(s)

	switch b.dialect {
	case models.DialectFull:
		for _, r := range s {
			c, ok := charmap.CodePage437.EncodeRune(r)
			if !ok {
				c = unencodable
			}

			dst = append(dst, c)
		}

		return dst
	case models.DialectLabel:
		return append(dst, s...)
	}

	return append(dst, s...)
}

// sanitize drops control characters other than line feed and tab, and
// replaces invalid UTF-8, so free text can never smuggle commands.
func sanitize(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, string(unencodable))
	}

	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}

		if unicode.IsControl(r) {
			return -1
		}

		return r
	}, s)
}

func flag(on bool) byte {
	if on {
		return 1
	}

	return 0
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}
