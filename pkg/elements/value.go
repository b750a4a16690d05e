// Package elements implements the abstract value domain that components of
// the Bali Virtual Machine live in.
//
// A value is either a primitive element (number, probability, symbol, tag,
// template, text, binary string, version, or reference), a compound
// collection (list, catalog, or ordered set), or an opaque block of procedure
// code. Values render to a canonical textual document notation and parse back
// from it; the notation is what the document repository persists and what the
// task serialization round-trips through.
//
// All values are totally ordered by Compare and compared for equality by
// Equals. Ordering across kinds is by kind rank, then within a kind by the
// kind's natural ordering. The virtual machine itself only requires these
// two capabilities plus keyed and indexed access on collections.
package elements

import (
	"bytes"
	"encoding/base32"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Value is any component that can live on the component stack or inside a
// document. Format renders the canonical source form of the value.
type Value interface {
	Format() string
}

// Template is one of the distinguished singleton elements.
type Template string

// The three templates.
const (
	None  Template = "none"
	True  Template = "true"
	False Template = "false"
)

// Format implements Value.
func (t Template) Format() string { return string(t) }

// Boolean converts a native condition into the corresponding template.
func Boolean(condition bool) Template {
	if condition {
		return True
	}
	return False
}

// Number is a complex number element. Real numbers render as decimals, with
// large or small magnitudes in exponent form like "1E+10"; numbers with an
// imaginary part render as "(re, imi)".
type Number complex128

// NewNumber creates a real number.
func NewNumber(real float64) Number { return Number(complex(real, 0)) }

// Format implements Value.
func (n Number) Format() string {
	if imag(complex128(n)) == 0 {
		return formatFloat(real(complex128(n)))
	}
	return fmt.Sprintf("(%s, %si)",
		formatFloat(real(complex128(n))), formatFloat(imag(complex128(n))))
}

// AsInteger truncates the real part of the number to an int.
func (n Number) AsInteger() int { return int(real(complex128(n))) }

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'G', -1, 64)
}

// Probability is a fraction in [0, 1] rendered as a percentage, e.g. "50%".
type Probability float64

// Format implements Value.
func (p Probability) Format() string {
	return formatFloat(float64(p)*100) + "%"
}

// Symbol is a named element like "$foobar".
type Symbol string

// Format implements Value.
func (s Symbol) Format() string { return "$" + string(s) }

// Tag is a unique, opaque identity rendered in base 32, like
// "#NQPS7CWQGH0QVRHLB0YHL3F60PL92SBV".
type Tag string

// base32Encoding is the alphabet used for tags, with the easily confused
// letters E, I, O, and U removed.
var base32Encoding = base32.NewEncoding("0123456789ABCDFGHJKLMNPQRSTVWXYZ").
	WithPadding(base32.NoPadding)

// NewTag generates a fresh random tag from a version 4 UUID.
func NewTag() Tag {
	id := uuid.New()
	return Tag(base32Encoding.EncodeToString(id[:]))
}

// Format implements Value.
func (t Tag) Format() string { return "#" + string(t) }

// Text is a quoted string element.
type Text string

// Format implements Value.
func (t Text) Format() string { return quoteText(string(t)) }

// Binary is a byte string element rendered in base 16 between single quotes,
// like "'28CF01A4'". Bytecode persists as a Binary inside documents.
type Binary []byte

// Format implements Value.
func (b Binary) Format() string {
	return "'" + strings.ToUpper(fmt.Sprintf("%x", []byte(b))) + "'"
}

// Version is an ordinal based version level like "v1.2.3".
type Version []uint

// Format implements Value.
func (v Version) Format() string {
	levels := make([]string, len(v))
	for i, level := range v {
		levels[i] = strconv.FormatUint(uint64(level), 10)
	}
	return "v" + strings.Join(levels, ".")
}

// Reference is a textual citation to a document in the repository. The
// digest is empty for citations to drafts, which are mutable and therefore
// not content addressable.
type Reference struct {
	Tag     Tag
	Version Version
	Digest  Binary
}

// Format implements Value.
func (r *Reference) Format() string {
	uri := fmt.Sprintf("<bali:/%s/%s", string(r.Tag), r.Version.Format())
	if len(r.Digest) > 0 {
		uri += "?digest=" + strings.ToUpper(fmt.Sprintf("%x", []byte(r.Digest)))
	}
	return uri + ">"
}

// Code is an opaque, already parsed block of procedure source. The virtual
// machine pushes code literals without interpreting them; only the external
// compiler understands their structure.
type Code string

// Format implements Value.
func (c Code) Format() string { return "{" + string(c) + "}" }

// quoteText escapes and double-quotes a text string.
func quoteText(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// kindRank defines the ordering between different kinds of values.
func kindRank(v Value) int {
	switch v.(type) {
	case Binary:
		return 1
	case *Catalog:
		return 2
	case Code:
		return 3
	case *List:
		return 4
	case Number:
		return 5
	case Probability:
		return 6
	case *Reference:
		return 7
	case *Set:
		return 8
	case Symbol:
		return 9
	case Tag:
		return 10
	case Template:
		return 11
	case Text:
		return 12
	case Version:
		return 13
	}
	return 14
}

// templateRank orders the templates as none < false < true.
var templateRank = map[Template]int{None: 0, False: 1, True: 2}

// Compare defines a total order over all values. It returns -1, 0, or +1.
func Compare(a, b Value) int {
	ra, rb := kindRank(a), kindRank(b)
	if ra != rb {
		return sign(ra - rb)
	}
	switch x := a.(type) {
	case Binary:
		return bytes.Compare(x, b.(Binary))
	case *Catalog:
		return compareCatalogs(x, b.(*Catalog))
	case Code:
		return strings.Compare(string(x), string(b.(Code)))
	case *List:
		return compareSequences(x.Items(), b.(*List).Items())
	case Number:
		y := b.(Number)
		if c := compareFloats(real(complex128(x)), real(complex128(y))); c != 0 {
			return c
		}
		return compareFloats(imag(complex128(x)), imag(complex128(y)))
	case Probability:
		return compareFloats(float64(x), float64(b.(Probability)))
	case *Reference:
		y := b.(*Reference)
		if c := strings.Compare(string(x.Tag), string(y.Tag)); c != 0 {
			return c
		}
		if c := compareVersions(x.Version, y.Version); c != 0 {
			return c
		}
		return bytes.Compare(x.Digest, y.Digest)
	case *Set:
		return compareSequences(x.Items(), b.(*Set).Items())
	case Symbol:
		return strings.Compare(string(x), string(b.(Symbol)))
	case Tag:
		return strings.Compare(string(x), string(b.(Tag)))
	case Template:
		return sign(templateRank[x] - templateRank[b.(Template)])
	case Text:
		return strings.Compare(string(x), string(b.(Text)))
	case Version:
		return compareVersions(x, b.(Version))
	}
	return 0
}

// Equals reports whether two values are equal under the total order.
func Equals(a, b Value) bool { return Compare(a, b) == 0 }

func sign(d int) int {
	switch {
	case d < 0:
		return -1
	case d > 0:
		return 1
	}
	return 0
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareVersions(a, b Version) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return sign(int(a[i]) - int(b[i]))
		}
	}
	return sign(len(a) - len(b))
}

func compareSequences(a, b []Value) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return sign(len(a) - len(b))
}

func compareCatalogs(a, b *Catalog) int {
	for i := 0; i < a.Size() && i < b.Size(); i++ {
		x, y := a.associations[i], b.associations[i]
		if c := Compare(x.Key, y.Key); c != 0 {
			return c
		}
		if c := Compare(x.Value, y.Value); c != 0 {
			return c
		}
	}
	return sign(a.Size() - b.Size())
}
