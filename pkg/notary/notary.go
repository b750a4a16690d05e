// Package notary provides the citation half of the digital notary subsystem.
//
// A citation is a content-addressed reference to a committed document: the
// document's tag and version plus a digest of its canonical source. Drafts
// are mutable, so their citations carry no digest. Credential signing and
// validation belong to the full notary service and are exposed here only as
// a named interface.
package notary

import (
	"golang.org/x/crypto/sha3"

	"github.com/bali-nebula/bvm/pkg/elements"
)

// Validator checks the credentials attached to a notarized document. The
// virtual machine never validates credentials itself; the interface names
// the external collaborator that does.
type Validator interface {
	ValidateCredentials(credentials *elements.Catalog) error
}

// DigestDocument computes the SHA3-256 digest of a document's canonical
// source.
func DigestDocument(document elements.Value) elements.Binary {
	digest := sha3.Sum256([]byte(document.Format()))
	return elements.Binary(digest[:])
}

// CiteDocument builds a content-addressed citation to a committed document.
func CiteDocument(tag elements.Tag, version elements.Version, document elements.Value) *elements.Reference {
	return &elements.Reference{
		Tag:     tag,
		Version: version,
		Digest:  DigestDocument(document),
	}
}

// CiteDraft builds a citation to a mutable draft, which carries no digest.
func CiteDraft(tag elements.Tag, version elements.Version) *elements.Reference {
	return &elements.Reference{Tag: tag, Version: version}
}

// CitationMatches reports whether a citation's digest matches the document.
// Citations without a digest refer to drafts and match any content.
func CitationMatches(citation *elements.Reference, document elements.Value) bool {
	if len(citation.Digest) == 0 {
		return true
	}
	return elements.Equals(citation.Digest, DigestDocument(document))
}
