package sip

import (
	"iter"
	"strings"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipcore/header"
)

// headerEntry is a single header occurrence.
// The parsed value is memoized in the entry that owns the raw value.
type headerEntry struct {
	raw    string
	parsed any
	done   bool
}

// Headers is an ordered multi-map of header occurrences keyed by canonical header name.
// The zero value is ready to use.
type Headers struct {
	names   []string
	entries map[string][]headerEntry
}

func (h *Headers) init() {
	if h.entries == nil {
		h.entries = make(map[string][]headerEntry)
	}
}

// Add appends an occurrence of the header.
func (h *Headers) Add(name, value string) *Headers {
	h.add(header.CanonicName(name), headerEntry{raw: strings.TrimSpace(value)})
	return h
}

func (h *Headers) add(name string, e headerEntry) {
	h.init()
	if _, ok := h.entries[name]; !ok {
		h.names = append(h.names, name)
	}
	h.entries[name] = append(h.entries[name], e)
}

// addParsed appends an occurrence together with its already parsed value.
func (h *Headers) addParsed(name, raw string, parsed any) {
	h.add(name, headerEntry{raw: raw, parsed: parsed, done: true})
}

// setParsed replaces all occurrences with a single already parsed value.
func (h *Headers) setParsed(name, raw string, parsed any) {
	h.init()
	if _, ok := h.entries[name]; !ok {
		h.names = append(h.names, name)
	}
	h.entries[name] = []headerEntry{{raw: raw, parsed: parsed, done: true}}
}

// Set replaces all occurrences of the header with the given values.
// The header keeps its position if it was present.
func (h *Headers) Set(name string, values ...string) *Headers {
	name = header.CanonicName(name)
	h.init()
	if _, ok := h.entries[name]; !ok {
		h.names = append(h.names, name)
	}
	es := make([]headerEntry, 0, len(values))
	for _, v := range values {
		es = append(es, headerEntry{raw: strings.TrimSpace(v)})
	}
	h.entries[name] = es
	return h
}

// Del removes all occurrences of the header.
func (h *Headers) Del(name string) *Headers {
	name = header.CanonicName(name)
	if _, ok := h.entries[name]; !ok {
		return h
	}
	delete(h.entries, name)
	h.names = deleteName(h.names, name)
	return h
}

func deleteName(names []string, name string) []string {
	for i, n := range names {
		if n == name {
			return append(names[:i:i], names[i+1:]...)
		}
	}
	return names
}

// Has reports whether at least one occurrence of the header is present.
func (h *Headers) Has(name string) bool {
	return h.Count(name) > 0
}

// Count returns the number of occurrences of the header.
func (h *Headers) Count(name string) int {
	if h == nil {
		return 0
	}
	return len(h.entries[header.CanonicName(name)])
}

// Get returns the raw value of the i-th occurrence of the header.
func (h *Headers) Get(name string, i int) (string, bool) {
	if h == nil {
		return "", false
	}
	es := h.entries[header.CanonicName(name)]
	if i < 0 || i >= len(es) {
		return "", false
	}
	return es[i].raw, true
}

// First returns the raw value of the first occurrence of the header.
func (h *Headers) First(name string) string {
	v, _ := h.Get(name, 0)
	return v
}

// Values returns the raw values of all occurrences of the header.
func (h *Headers) Values(name string) []string {
	if h == nil {
		return nil
	}
	es := h.entries[header.CanonicName(name)]
	vs := make([]string, len(es))
	for i := range es {
		vs[i] = es[i].raw
	}
	return vs
}

// Parsed returns the parsed value of the i-th occurrence of the header, see [header.Parse].
// The first access parses and memoizes the value. An occurrence that fails
// to parse is removed from the headers and the error is returned.
func (h *Headers) Parsed(name string, i int) (any, error) {
	if h == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("nil headers"))
	}
	name = header.CanonicName(name)
	es := h.entries[name]
	if i < 0 || i >= len(es) {
		return nil, errtrace.Wrap(NewInvalidArgumentError("header %q occurrence %d not found", name, i))
	}
	if es[i].done {
		return es[i].parsed, nil
	}

	v, err := header.Parse(name, es[i].raw)
	if err != nil {
		h.removeAt(name, i)
		return nil, errtrace.Wrap(err)
	}
	es[i].parsed, es[i].done = v, true
	return v, nil
}

func (h *Headers) removeAt(name string, i int) {
	es := h.entries[name]
	es = append(es[:i:i], es[i+1:]...)
	if len(es) == 0 {
		delete(h.entries, name)
		h.names = deleteName(h.names, name)
		return
	}
	h.entries[name] = es
}

// Names iterates over canonical header names in the order of their first occurrence.
func (h *Headers) Names() iter.Seq[string] {
	return func(yield func(string) bool) {
		if h == nil {
			return
		}
		for _, n := range h.names {
			if !yield(n) {
				return
			}
		}
	}
}

// Clone returns a copy with the raw values only.
// Parsed values are not shared with the copy.
func (h *Headers) Clone() *Headers {
	h2 := new(Headers)
	if h == nil {
		return h2
	}
	for _, n := range h.names {
		for _, e := range h.entries[n] {
			h2.add(n, headerEntry{raw: e.raw})
		}
	}
	return h2
}

// writeTo renders every occurrence as a separate "Name: value" line,
// skipping the names for which skip returns true.
func (h *Headers) writeTo(sb *strings.Builder, skip func(name string) bool) {
	if h == nil {
		return
	}
	for _, n := range h.names {
		if skip != nil && skip(n) {
			continue
		}
		h.writeName(sb, n)
	}
}

func (h *Headers) writeName(sb *strings.Builder, name string) {
	for _, e := range h.entries[name] {
		sb.WriteString(name)
		sb.WriteString(": ")
		sb.WriteString(e.raw)
		sb.WriteString("\r\n")
	}
}
