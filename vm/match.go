package vm

import (
	"fmt"
	"regexp"

	"github.com/armon/go-radix"

	"github.com/xzero/flow/api"
)

// MatchDef describes one match instruction: the handler it belongs to, how labels are
// compared, where to continue when no case matches, and the cases in source order.
type MatchDef struct {
	Handler int            `cbor:"1,keyasint"`
	Class   api.MatchClass `cbor:"2,keyasint"`
	ElsePC  int            `cbor:"3,keyasint"`
	Cases   []MatchCaseDef `cbor:"4,keyasint"`
}

// MatchCaseDef is one case of a match. Label indexes the program's regexp pool for
// api.MatchRegExp and its string pool otherwise.
type MatchCaseDef struct {
	Label int `cbor:"1,keyasint"`
	PC    int `cbor:"2,keyasint"`
}

// Match evaluates a match instruction. The lookup structure depends on the class:
// a hash table for api.MatchSame, a radix tree over the labels for api.MatchHead, a radix
// tree over the reversed labels for api.MatchTail and the compiled expressions in case
// order for api.MatchRegExp.
type Match struct {
	def     *MatchDef
	handler *Handler

	same    map[string]int
	tree    *radix.Tree
	regexps []*regexp.Regexp
	pcs     []int
}

func newMatch(p *Program, def *MatchDef) (*Match, error) {
	if def.Handler < 0 || def.Handler >= len(p.handlers) {
		return nil, fmt.Errorf("handler %d out of range", def.Handler)
	}
	m := &Match{def: def, handler: p.handlers[def.Handler]}

	label := func(c MatchCaseDef, n int) error {
		if c.Label < 0 || c.Label >= n {
			return fmt.Errorf("label %d out of range [0, %d)", c.Label, n)
		}
		return nil
	}

	switch def.Class {
	case api.MatchSame:
		m.same = make(map[string]int, len(def.Cases))
		for _, c := range def.Cases {
			if err := label(c, len(p.data.Strings)); err != nil {
				return nil, err
			}
			if _, ok := m.same[p.data.Strings[c.Label]]; !ok {
				m.same[p.data.Strings[c.Label]] = c.PC
			}
		}
	case api.MatchHead, api.MatchTail:
		m.tree = radix.New()
		for _, c := range def.Cases {
			if err := label(c, len(p.data.Strings)); err != nil {
				return nil, err
			}
			key := p.data.Strings[c.Label]
			if def.Class == api.MatchTail {
				key = reverse(key)
			}
			if _, ok := m.tree.Get(key); !ok {
				m.tree.Insert(key, c.PC)
			}
		}
	case api.MatchRegExp:
		for _, c := range def.Cases {
			if err := label(c, len(p.regexps)); err != nil {
				return nil, err
			}
			m.regexps = append(m.regexps, p.regexps[c.Label])
			m.pcs = append(m.pcs, c.PC)
		}
	default:
		return nil, fmt.Errorf("unknown match class %d", def.Class)
	}
	return m, nil
}

func (m *Match) verifyTargets(codeLen int) error {
	if m.def.ElsePC < 0 || m.def.ElsePC >= codeLen {
		return fmt.Errorf("match else pc %d out of range", m.def.ElsePC)
	}
	for _, c := range m.def.Cases {
		if c.PC < 0 || c.PC >= codeLen {
			return fmt.Errorf("match case pc %d out of range", c.PC)
		}
	}
	return nil
}

// Def returns the definition of this match.
func (m *Match) Def() *MatchDef { return m.def }

// Handler returns the handler this match belongs to.
func (m *Match) Handler() *Handler { return m.handler }

// Evaluate returns the pc of the case matching cond, or the else pc if none does.
// For api.MatchRegExp the capture groups of the matching expression become the regexp
// group context of r, when r is not nil.
func (m *Match) Evaluate(cond string, r *Runner) int {
	switch m.def.Class {
	case api.MatchSame:
		if pc, ok := m.same[cond]; ok {
			return pc
		}
	case api.MatchHead:
		if _, pc, ok := m.tree.LongestPrefix(cond); ok {
			return pc.(int)
		}
	case api.MatchTail:
		if _, pc, ok := m.tree.LongestPrefix(reverse(cond)); ok {
			return pc.(int)
		}
	case api.MatchRegExp:
		for i, re := range m.regexps {
			if groups := re.FindStringSubmatch(cond); groups != nil {
				if r != nil {
					r.groups = groups
				}
				return m.pcs[i]
			}
		}
	}
	return m.def.ElsePC
}

// reverse returns s with its bytes in reverse order.
func reverse(s string) string {
	b := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		b[len(s)-1-i] = s[i]
	}
	return string(b)
}
