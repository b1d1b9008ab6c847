package config

import (
	"fmt"
	"sort"
	"strings"
)

// listSuffix marks keys whose values are comma separated lists.
const listSuffix = "_list"

// Table is a flat key to raw value mapping, before interpolation.
type Table map[string]string

// Layer builds a Table from the given layers. Later layers override
// earlier ones, so callers pass defaults first.
func Layer(layers ...map[string]string) Table {
	t := make(Table)
	for _, l := range layers {
		for k, v := range l {
			t[k] = v
		}
	}
	return t
}

// Resolve interpolates every value in t, returning the fully resolved
// table. A value may refer to other keys with {name}; {{ and }} produce
// literal braces. Referencing an undefined key yields a *LookupError and a
// reference cycle yields a *ConfigurationError naming the cycle.
func (t Table) Resolve() (Values, error) {
	r := &resolver{
		raw:      t,
		done:     make(map[string]string, len(t)),
		visiting: make(map[string]bool),
	}
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := r.resolve(k, ""); err != nil {
			return Values{}, err
		}
	}
	return Values{m: r.done}, nil
}

// resolver performs a depth-first walk over placeholder references. done
// holds fully resolved keys, visiting the keys on the current path, which
// is also kept in order in path so a cycle can be reported.
type resolver struct {
	raw      Table
	done     map[string]string
	visiting map[string]bool
	path     []string
}

func (r *resolver) resolve(key, referrer string) (string, error) {
	if v, ok := r.done[key]; ok {
		return v, nil
	}
	raw, ok := r.raw[key]
	if !ok {
		return "", &LookupError{Key: key, Referrer: referrer}
	}
	if r.visiting[key] {
		return "", configErrorf("interpolation cycle %s", dumpCycle(r.path, key))
	}
	r.visiting[key] = true
	r.path = append(r.path, key)
	v, err := interpolate(raw, func(name string) (string, error) {
		return r.resolve(name, key)
	})
	r.path = r.path[:len(r.path)-1]
	delete(r.visiting, key)
	if err != nil {
		return "", err
	}
	r.done[key] = v
	return v, nil
}

// dumpCycle renders the tail of path starting at key, closed by key
// itself, for example [a <= b <= a].
func dumpCycle(path []string, key string) string {
	start := 0
	for i, p := range path {
		if p == key {
			start = i
			break
		}
	}
	cycle := append(append([]string(nil), path[start:]...), key)
	return "[" + strings.Join(cycle, " <= ") + "]"
}

// interpolate replaces each {name} in s with lookup(name).
func interpolate(s string, lookup func(string) (string, error)) (string, error) {
	if !strings.ContainsAny(s, "{}") {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '{' && i+1 < len(s) && s[i+1] == '{':
			b.WriteByte('{')
			i++
		case c == '}' && i+1 < len(s) && s[i+1] == '}':
			b.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(s[i:], '}')
			if end == -1 {
				return "", configErrorf("unterminated placeholder in %q", s)
			}
			name := s[i+1 : i+end]
			if !validKey(name) {
				return "", configErrorf("invalid placeholder {%s} in %q", name, s)
			}
			v, err := lookup(name)
			if err != nil {
				return "", err
			}
			b.WriteString(v)
			i += end
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

func validKey(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
		default:
			return false
		}
	}
	return true
}

// Values is a fully resolved configuration table. It is read-only.
type Values struct {
	m map[string]string
}

// Get returns the resolved value of key.
func (v Values) Get(key string) (string, error) {
	s, ok := v.m[key]
	if !ok {
		return "", &LookupError{Key: key}
	}
	return s, nil
}

// Has reports whether key has a value.
func (v Values) Has(key string) bool {
	_, ok := v.m[key]
	return ok
}

// List returns the value of a key ending in _list split on commas, with
// surrounding whitespace and empty items removed.
func (v Values) List(key string) ([]string, error) {
	if !strings.HasSuffix(key, listSuffix) {
		return nil, configErrorf("key %q is not a list (list keys end in %q)", key, listSuffix)
	}
	s, err := v.Get(key)
	if err != nil {
		return nil, err
	}
	return splitList(s), nil
}

// Bool reports whether the value of key is "true", ignoring case.
func (v Values) Bool(key string) (bool, error) {
	s, err := v.Get(key)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(s), "true"), nil
}

// Expand interpolates template against the resolved values.
func (v Values) Expand(template string) (string, error) {
	return interpolate(template, func(name string) (string, error) {
		return v.Get(name)
	})
}

// With returns a copy of v with extra literal values added.
func (v Values) With(extra map[string]string) Values {
	m := make(map[string]string, len(v.m)+len(extra))
	for k, s := range v.m {
		m[k] = s
	}
	for k, s := range extra {
		m[k] = s
	}
	return Values{m: m}
}

// Keys returns the sorted keys of v.
func (v Values) Keys() []string {
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func splitList(s string) []string {
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func (v Values) String() string {
	var b strings.Builder
	for _, k := range v.Keys() {
		fmt.Fprintf(&b, "%s = %s\n", k, v.m[k])
	}
	return b.String()
}
