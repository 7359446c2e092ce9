package spec

import (
	"fmt"
	"strings"
)

// ParseError reports a malformed spec string.
type ParseError struct {
	Input   string
	Offset  int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse spec %q at offset %d: %s", e.Input, e.Offset, e.Message)
}

// Parse parses a spec string:
//
//	name[@versions][+var][~var][%compiler[@versions]][key=value...][arch=...] [^dep ...]
//	/hashprefix
//
// Every '^' clause becomes a DepEdge with Types == 0 on the root. The name
// may be omitted, yielding an anonymous spec (used for when-predicates).
func Parse(input string) (*AbstractSpec, error) {
	p := &parser{in: input}
	root, err := p.node()
	if err != nil {
		return nil, err
	}
	for p.skipSpace() {
		if p.peek() != '^' {
			return nil, p.errorf("expected '^', found %q", p.peek())
		}
		p.pos++
		dep, err := p.node()
		if err != nil {
			return nil, err
		}
		if dep.Name == "" && dep.Hash == "" {
			return nil, p.errorf("dependency constraint needs a package name")
		}
		root.Deps = append(root.Deps, DepEdge{Spec: dep})
	}
	return root, nil
}

// MustParse is like Parse but panics on error.
// Use only in tests or for literals known to be valid.
func MustParse(input string) *AbstractSpec {
	s, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return s
}

type parser struct {
	in  string
	pos int
}

func (p *parser) errorf(format string, args ...any) error {
	return &ParseError{Input: p.in, Offset: p.pos, Message: fmt.Sprintf(format, args...)}
}

func (p *parser) peek() byte { return p.in[p.pos] }

// skipSpace advances over blanks and reports whether input remains.
func (p *parser) skipSpace() bool {
	for p.pos < len(p.in) && (p.in[p.pos] == ' ' || p.in[p.pos] == '\t') {
		p.pos++
	}
	return p.pos < len(p.in)
}

func isIdentByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '-' || c == '_' || c == '.'
}

// readUntil consumes bytes up to (not including) any byte in stop or a blank.
func (p *parser) readUntil(stop string) string {
	start := p.pos
	for p.pos < len(p.in) {
		c := p.in[p.pos]
		if c == ' ' || c == '\t' || strings.IndexByte(stop, c) >= 0 {
			break
		}
		p.pos++
	}
	return p.in[start:p.pos]
}

func (p *parser) ident() string {
	start := p.pos
	for p.pos < len(p.in) && isIdentByte(p.in[p.pos]) {
		p.pos++
	}
	return p.in[start:p.pos]
}

// node parses one node's clauses, stopping before '^' or end of input.
func (p *parser) node() (*AbstractSpec, error) {
	s := &AbstractSpec{}
	first := true
	for p.skipSpace() {
		c := p.peek()
		switch {
		case c == '^':
			return s, nil

		case c == '/':
			p.pos++
			h := p.readUntil("^")
			if h == "" {
				return nil, p.errorf("empty hash")
			}
			s.Hash = strings.ToLower(h)

		case c == '@':
			p.pos++
			if len(s.Versions) > 0 {
				return nil, p.errorf("version constraint given twice")
			}
			raw := p.readUntil("+~%^")
			vc, err := ParseVersionConstraint(raw)
			if err != nil {
				return nil, p.errorf("%v", err)
			}
			if len(vc) == 0 {
				return nil, p.errorf("empty version constraint")
			}
			s.Versions = vc

		case c == '+' || c == '~':
			p.pos++
			name := p.ident()
			if name == "" {
				return nil, p.errorf("expected variant name after %q", c)
			}
			if err := s.setVariant(name, BoolValue(c == '+')); err != nil {
				return nil, p.errorf("%v", err)
			}

		case c == '%':
			p.pos++
			name := p.ident()
			if name == "" {
				return nil, p.errorf("expected compiler name after '%%'")
			}
			if s.Compiler != nil {
				return nil, p.errorf("compiler given twice")
			}
			cc := &CompilerConstraint{Name: name}
			if p.pos < len(p.in) && p.peek() == '@' {
				p.pos++
				vc, err := ParseVersionConstraint(p.readUntil("+~%^"))
				if err != nil {
					return nil, p.errorf("%v", err)
				}
				cc.Versions = vc
			}
			s.Compiler = cc

		case isIdentByte(c):
			word := p.ident()
			if p.pos < len(p.in) && p.peek() == '=' {
				p.pos++
				value := p.readUntil("^")
				if value == "" {
					return nil, p.errorf("empty value for %q", word)
				}
				if word == "arch" {
					s.Arch = value
					break
				}
				var v VariantValue = EnumValue(value)
				if strings.Contains(value, ",") {
					v = NewSetValue(strings.Split(value, ",")...)
				}
				if err := s.setVariant(word, v); err != nil {
					return nil, p.errorf("%v", err)
				}
				break
			}
			if !first || s.Name != "" {
				return nil, p.errorf("unexpected token %q", word)
			}
			s.Name = word

		default:
			return nil, p.errorf("unexpected character %q", c)
		}
		first = false
	}
	return s, nil
}

func (s *AbstractSpec) setVariant(name string, v VariantValue) error {
	if s.Variants == nil {
		s.Variants = map[string]VariantValue{}
	}
	if _, dup := s.Variants[name]; dup {
		return fmt.Errorf("variant %q given twice", name)
	}
	s.Variants[name] = v
	return nil
}
