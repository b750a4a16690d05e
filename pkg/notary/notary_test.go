package notary

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bali-nebula/bvm/pkg/elements"
)

func TestDigestIsDeterministic(t *testing.T) {
	document := elements.NewCatalog()
	document.SetValue(elements.Symbol("key"), elements.Text("value"))
	assert.True(t, elements.Equals(DigestDocument(document), DigestDocument(document)))
	assert.Len(t, []byte(DigestDocument(document)), 32)

	other := elements.NewCatalog()
	other.SetValue(elements.Symbol("key"), elements.Text("different"))
	assert.False(t, elements.Equals(DigestDocument(document), DigestDocument(other)))
}

func TestCitationMatches(t *testing.T) {
	document := elements.NewCatalog()
	document.SetValue(elements.Symbol("key"), elements.Text("value"))
	tag := elements.NewTag()
	version := elements.Version{1, 2}

	citation := CiteDocument(tag, version, document)
	assert.Equal(t, tag, citation.Tag)
	assert.True(t, elements.Equals(citation.Version, version))
	assert.True(t, CitationMatches(citation, document))

	tampered := elements.NewCatalog()
	tampered.SetValue(elements.Symbol("key"), elements.Text("tampered"))
	assert.False(t, CitationMatches(citation, tampered))
}

func TestDraftCitationsMatchAnyContent(t *testing.T) {
	citation := CiteDraft(elements.NewTag(), elements.Version{1})
	assert.Empty(t, citation.Digest)
	document := elements.NewCatalog()
	assert.True(t, CitationMatches(citation, document))
}
