package pickle

import (
	"fmt"
	"sort"
	"strings"
)

// Policy decides which class references a Decoder may resolve. It is
// immutable once built and safe for concurrent use.
type Policy struct {
	classes map[Class]struct{}
	modules map[string]struct{}
}

// DefaultAllowList returns the references a Mailman list configuration
// legitimately contains.
func DefaultAllowList() []string {
	return []string{
		"Mailman.Bouncer.*",
		"Mailman.UserDesc.*",
	}
}

// NewPolicy builds a policy from references of the form "Module.Name" or
// "Module.*". The module part may itself contain dots.
func NewPolicy(refs ...string) (*Policy, error) {
	p := &Policy{
		classes: make(map[Class]struct{}),
		modules: make(map[string]struct{}),
	}
	for _, ref := range refs {
		c, err := ParseClass(ref)
		if err != nil {
			return nil, err
		}
		if c.Name == "*" {
			p.modules[c.Module] = struct{}{}
			continue
		}
		p.classes[c] = struct{}{}
	}
	return p, nil
}

// ParseClass splits "Module.Name" at its last dot.
func ParseClass(ref string) (Class, error) {
	i := strings.LastIndexByte(ref, '.')
	if i <= 0 || i == len(ref)-1 {
		return Class{}, fmt.Errorf("pickle: bad class reference %q", ref)
	}
	c := Class{Module: ref[:i], Name: ref[i+1:]}
	if strings.ContainsAny(ref, " \t\r\n") || strings.Contains(c.Name, "*") && c.Name != "*" {
		return Class{}, fmt.Errorf("pickle: bad class reference %q", ref)
	}
	return c, nil
}

// Allows reports whether module.name may be resolved. A nil policy allows
// nothing.
func (p *Policy) Allows(module, name string) bool {
	if p == nil {
		return false
	}
	if _, ok := p.modules[module]; ok {
		return true
	}
	_, ok := p.classes[Class{Module: module, Name: name}]
	return ok
}

// References returns the policy in the form NewPolicy accepts, sorted.
func (p *Policy) References() []string {
	if p == nil {
		return nil
	}
	refs := make([]string, 0, len(p.classes)+len(p.modules))
	for m := range p.modules {
		refs = append(refs, m+".*")
	}
	for c := range p.classes {
		refs = append(refs, c.String())
	}
	sort.Strings(refs)
	return refs
}
