package elements

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Parse reads a value from its canonical document notation. It is the
// inverse of Value.Format and is used when importing persisted task and
// procedure documents.
func Parse(source string) (Value, error) {
	p := &parser{scanner: newScanner(source)}
	p.advance()
	value, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	if p.current.kind != tokenEOF {
		return nil, p.errorf("unexpected trailing input")
	}
	return value, nil
}

// ParseCatalog reads a value and requires it to be a catalog. Documents
// exchanged with the repository are catalogs at the top level.
func ParseCatalog(source string) (*Catalog, error) {
	value, err := Parse(source)
	if err != nil {
		return nil, err
	}
	catalog, ok := value.(*Catalog)
	if !ok {
		return nil, fmt.Errorf("elements: document is not a catalog: %s", value.Format())
	}
	return catalog, nil
}

type parser struct {
	scanner *scanner
	current token
}

func (p *parser) advance() {
	p.current = p.scanner.next()
}

func (p *parser) errorf(format string, arguments ...interface{}) error {
	return fmt.Errorf("elements: %s at position %d",
		fmt.Sprintf(format, arguments...), p.current.position)
}

func (p *parser) expectDelimiter(delimiter string) error {
	if p.current.kind != tokenDelimiter || p.current.literal != delimiter {
		return p.errorf("expected %q, found %q", delimiter, p.current.literal)
	}
	p.advance()
	return nil
}

func (p *parser) parseValue() (Value, error) {
	switch p.current.kind {
	case tokenError:
		return nil, p.errorf("%s", p.current.literal)
	case tokenKeyword:
		return p.parseKeyword()
	case tokenNumber:
		literal := p.current.literal
		p.advance()
		real, err := strconv.ParseFloat(literal, 64)
		if err != nil {
			return nil, p.errorf("invalid number %q", literal)
		}
		return NewNumber(real), nil
	case tokenProbability:
		literal := p.current.literal
		p.advance()
		fraction, err := strconv.ParseFloat(literal, 64)
		if err != nil {
			return nil, p.errorf("invalid probability %q", literal)
		}
		return Probability(fraction / 100), nil
	case tokenSymbol:
		symbol := Symbol(p.current.literal)
		p.advance()
		return symbol, nil
	case tokenTag:
		tag := Tag(p.current.literal)
		p.advance()
		return tag, nil
	case tokenText:
		text := Text(p.current.literal)
		p.advance()
		return text, nil
	case tokenBinary:
		literal := p.current.literal
		p.advance()
		bytes, err := hex.DecodeString(strings.ToLower(literal))
		if err != nil {
			return nil, p.errorf("invalid binary %q", literal)
		}
		return Binary(bytes), nil
	case tokenVersion:
		literal := p.current.literal
		p.advance()
		version, err := parseVersion(literal)
		if err != nil {
			return nil, p.errorf("invalid version %q", literal)
		}
		return version, nil
	case tokenCode:
		code := Code(p.current.literal)
		p.advance()
		return code, nil
	case tokenReference:
		literal := p.current.literal
		p.advance()
		reference, err := parseReference(literal)
		if err != nil {
			return nil, p.errorf("%s", err)
		}
		return reference, nil
	case tokenDelimiter:
		switch p.current.literal {
		case "[":
			return p.parseCollection()
		case "(":
			return p.parseComplex()
		}
	}
	return nil, p.errorf("unexpected token %q", p.current.literal)
}

func (p *parser) parseKeyword() (Value, error) {
	word := p.current.literal
	p.advance()
	switch word {
	case "none":
		return None, nil
	case "true":
		return True, nil
	case "false":
		return False, nil
	}
	return nil, p.errorf("unexpected keyword %q", word)
}

// parseComplex parses "(re, imi)".
func (p *parser) parseComplex() (Value, error) {
	if err := p.expectDelimiter("("); err != nil {
		return nil, err
	}
	if p.current.kind != tokenNumber {
		return nil, p.errorf("expected the real part, found %q", p.current.literal)
	}
	realPart, err := strconv.ParseFloat(p.current.literal, 64)
	if err != nil {
		return nil, p.errorf("invalid number %q", p.current.literal)
	}
	p.advance()
	if err := p.expectDelimiter(","); err != nil {
		return nil, err
	}
	if p.current.kind != tokenNumber {
		return nil, p.errorf("expected the imaginary part, found %q", p.current.literal)
	}
	imaginaryPart, err := strconv.ParseFloat(p.current.literal, 64)
	if err != nil {
		return nil, p.errorf("invalid number %q", p.current.literal)
	}
	p.advance()
	if p.current.kind != tokenKeyword || p.current.literal != "i" {
		return nil, p.errorf("expected the imaginary unit, found %q", p.current.literal)
	}
	p.advance()
	if err := p.expectDelimiter(")"); err != nil {
		return nil, err
	}
	return Number(complex(realPart, imaginaryPart)), nil
}

// parseCollection parses a list or a catalog. "[ ]" is the empty list and
// "[:]" the empty catalog; otherwise a colon after the first value selects
// the catalog form.
func (p *parser) parseCollection() (Value, error) {
	if err := p.expectDelimiter("["); err != nil {
		return nil, err
	}
	if p.current.kind == tokenDelimiter {
		switch p.current.literal {
		case "]":
			p.advance()
			return NewList(), nil
		case ":":
			p.advance()
			if err := p.expectDelimiter("]"); err != nil {
				return nil, err
			}
			return NewCatalog(), nil
		}
	}
	first, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	if p.current.kind == tokenDelimiter && p.current.literal == ":" {
		return p.parseCatalog(first)
	}
	list := NewList(first)
	for p.current.kind == tokenDelimiter && p.current.literal == "," {
		p.advance()
		item, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		list.Add(item)
	}
	if err := p.expectDelimiter("]"); err != nil {
		return nil, err
	}
	return list, nil
}

func (p *parser) parseCatalog(firstKey Value) (Value, error) {
	catalog := NewCatalog()
	key := firstKey
	for {
		if err := p.expectDelimiter(":"); err != nil {
			return nil, err
		}
		value, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		catalog.SetValue(key, value)
		if p.current.kind != tokenDelimiter || p.current.literal != "," {
			break
		}
		p.advance()
		key, err = p.parseValue()
		if err != nil {
			return nil, err
		}
	}
	if err := p.expectDelimiter("]"); err != nil {
		return nil, err
	}
	return catalog, nil
}

// parseReference parses the URI form "bali:/TAG/VERSION?digest=HEX".
func parseReference(uri string) (*Reference, error) {
	rest, ok := strings.CutPrefix(uri, "bali:/")
	if !ok {
		return nil, fmt.Errorf("invalid reference scheme in %q", uri)
	}
	var digest Binary
	if path, query, found := strings.Cut(rest, "?"); found {
		rest = path
		encoded, ok := strings.CutPrefix(query, "digest=")
		if !ok {
			return nil, fmt.Errorf("invalid reference query in %q", uri)
		}
		bytes, err := hex.DecodeString(strings.ToLower(encoded))
		if err != nil {
			return nil, fmt.Errorf("invalid reference digest in %q", uri)
		}
		digest = Binary(bytes)
	}
	tag, versionLiteral, found := strings.Cut(rest, "/")
	if !found || tag == "" || !strings.HasPrefix(versionLiteral, "v") {
		return nil, fmt.Errorf("invalid reference path in %q", uri)
	}
	version, err := parseVersion(versionLiteral[1:])
	if err != nil {
		return nil, fmt.Errorf("invalid reference version in %q", uri)
	}
	return &Reference{Tag: Tag(tag), Version: version, Digest: digest}, nil
}

func parseVersion(levels string) (Version, error) {
	var version Version
	for _, level := range strings.Split(levels, ".") {
		ordinal, err := strconv.ParseUint(level, 10, 32)
		if err != nil {
			return nil, err
		}
		version = append(version, uint(ordinal))
	}
	return version, nil
}
