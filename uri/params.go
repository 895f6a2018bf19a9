package uri

import (
	"strings"

	"github.com/ghettovoice/sipcore/internal/util"
)

// Param is a single generic parameter, ";name" or ";name=value".
// Value is kept as it appeared on the wire, including quotes.
type Param struct {
	Name     string
	Value    string
	HasValue bool
}

// Params is an ordered list of parameters.
// Name lookups are case-insensitive.
type Params []Param

func (ps Params) index(name string) int {
	for i := range ps {
		if util.EqFold(ps[i].Name, name) {
			return i
		}
	}
	return -1
}

// Has reports whether the parameter is present.
func (ps Params) Has(name string) bool { return ps.index(name) >= 0 }

// Get returns the parameter value with surrounding quotes removed.
func (ps Params) Get(name string) (string, bool) {
	i := ps.index(name)
	if i < 0 {
		return "", false
	}
	return Unquote(ps[i].Value), true
}

// Set replaces the value of the first parameter with the given name or appends a new one.
func (ps *Params) Set(name, value string) {
	if i := ps.index(name); i >= 0 {
		(*ps)[i].Value = value
		(*ps)[i].HasValue = true
		return
	}
	*ps = append(*ps, Param{Name: name, Value: value, HasValue: true})
}

// SetFlag adds a parameter without value.
func (ps *Params) SetFlag(name string) {
	if i := ps.index(name); i >= 0 {
		(*ps)[i].Value = ""
		(*ps)[i].HasValue = false
		return
	}
	*ps = append(*ps, Param{Name: name})
}

// Del removes all parameters with the given name.
func (ps *Params) Del(name string) {
	out := (*ps)[:0]
	for _, p := range *ps {
		if !util.EqFold(p.Name, name) {
			out = append(out, p)
		}
	}
	*ps = out
}

// Clone returns a copy of the list.
func (ps Params) Clone() Params {
	if ps == nil {
		return nil
	}
	return append(Params(nil), ps...)
}

// String renders the list with a leading ';' before each parameter.
func (ps Params) String() string {
	if len(ps) == 0 {
		return ""
	}

	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)

	ps.writeTo(sb)
	return sb.String()
}

func (ps Params) writeTo(sb *strings.Builder) {
	for _, p := range ps {
		sb.WriteByte(';')
		sb.WriteString(p.Name)
		if p.HasValue {
			sb.WriteByte('=')
			sb.WriteString(p.Value)
		}
	}
}

// Unquote removes surrounding double quotes and resolves quoted pairs.
func Unquote(s string) string {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return s
	}
	s = s[1 : len(s)-1]
	if !strings.Contains(s, `\`) {
		return s
	}

	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

// Quote wraps s into double quotes escaping quotes and backslashes.
func Quote(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 2)
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteByte(s[i])
	}
	sb.WriteByte('"')
	return sb.String()
}
