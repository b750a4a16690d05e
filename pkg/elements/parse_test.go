package elements

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Formatting a value and parsing it back must reproduce the value exactly.
func TestFormatParseRoundTrip(t *testing.T) {
	catalog := NewCatalog()
	catalog.SetValue(Symbol("name"), Text("deep thought"))
	catalog.SetValue(Symbol("answer"), NewNumber(42))
	tests := []Value{
		None,
		True,
		False,
		NewNumber(0),
		NewNumber(-4.2),
		NewNumber(1e10),
		Number(complex(3, 4)),
		Number(complex(-1, -0.5)),
		Probability(0.5),
		Probability(1),
		Symbol("foobar"),
		Tag("NQPS7CWQGH0QVRHLB0YHL3F60PL92SBV"),
		Text("hello world"),
		Text("with \"quotes\" and \\ and\nnewlines\t"),
		Binary{0x28, 0xCF, 0x01, 0xA4},
		Binary{},
		Version{1},
		Version{1, 2, 3},
		&Reference{Tag: Tag("ABC123"), Version: Version{1, 2}},
		&Reference{Tag: Tag("ABC123"), Version: Version{3}, Digest: Binary{0xDE, 0xAD}},
		Code(" $x := 5 "),
		Code(" if { nested { braces } } "),
		NewList(),
		NewList(NewNumber(1), Symbol("two"), Text("three")),
		NewList(NewList(True), NewList(False)),
		NewCatalog(),
		catalog,
	}
	for _, expected := range tests {
		source := expected.Format()
		parsed, err := Parse(source)
		require.NoError(t, err, "parsing %q", source)
		assert.True(t, Equals(expected, parsed),
			"round trip mismatch: %q parsed as %q", source, parsed.Format())
		assert.Equal(t, source, parsed.Format(), "formats diverged for %q", source)
	}
}

func TestParseWhitespaceTolerance(t *testing.T) {
	value, err := Parse("[\n    $first: 1,\n    $second: [ true, false ]\n]")
	require.NoError(t, err)
	catalog, ok := value.(*Catalog)
	require.True(t, ok, "expected a catalog")
	assert.True(t, Equals(catalog.GetValue(Symbol("first")), NewNumber(1)))
	list, ok := catalog.GetValue(Symbol("second")).(*List)
	require.True(t, ok, "expected a nested list")
	assert.Equal(t, 2, list.Size())
}

func TestParseEmptyCollections(t *testing.T) {
	list, err := Parse("[ ]")
	require.NoError(t, err)
	assert.Equal(t, 0, list.(*List).Size())

	catalog, err := Parse("[:]")
	require.NoError(t, err)
	assert.Equal(t, 0, catalog.(*Catalog).Size())
}

func TestParseBinaryWithWhitespace(t *testing.T) {
	value, err := Parse("'28CF\n    01A4'")
	require.NoError(t, err)
	assert.True(t, Equals(value, Binary{0x28, 0xCF, 0x01, 0xA4}))
}

func TestParseErrors(t *testing.T) {
	tests := []string{
		"",
		"[1, 2",
		"[$key: ]",
		"\"unterminated",
		"'F",
		"'XYZ'",
		"{ unbalanced",
		"<bali:/missing",
		"<http://wrong/scheme/v1>",
		"<bali:/TAG/nonsense>",
		"bogus",
		"1 2",
		"(1, 2)",
	}
	for _, source := range tests {
		_, err := Parse(source)
		assert.Error(t, err, "expected %q to fail", source)
	}
}

func TestParseCatalogRejectsOtherValues(t *testing.T) {
	_, err := ParseCatalog("[1, 2, 3]")
	assert.Error(t, err)

	catalog, err := ParseCatalog("[$key: true]")
	require.NoError(t, err)
	assert.True(t, Equals(catalog.GetValue(Symbol("key")), True))
}

func TestProbabilityNotation(t *testing.T) {
	value, err := Parse("50%")
	require.NoError(t, err)
	assert.True(t, Equals(value, Probability(0.5)))
	assert.Equal(t, "50%", Probability(0.5).Format())
}

func TestReferenceNotation(t *testing.T) {
	value, err := Parse("<bali:/ABC123/v1.2?digest=DEAD>")
	require.NoError(t, err)
	reference, ok := value.(*Reference)
	require.True(t, ok)
	assert.Equal(t, Tag("ABC123"), reference.Tag)
	assert.True(t, Equals(reference.Version, Version{1, 2}))
	assert.True(t, Equals(reference.Digest, Binary{0xDE, 0xAD}))

	value, err = Parse("<bali:/ABC123/v7>")
	require.NoError(t, err)
	assert.Empty(t, value.(*Reference).Digest)
}
