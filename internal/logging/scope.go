package logging

import (
	"log/slog"
	"slices"
	"strings"
)

// scope holds the level and the WithAttrs/WithGroup state shared by the
// journal and buffer handlers. Attributes remember the groups that were open
// when they were added.
type scope struct {
	level  slog.Leveler
	attrs  []scopedAttr
	groups []string
}

type scopedAttr struct {
	groups []string
	attr   slog.Attr
}

func (s scope) enabled(level slog.Level) bool {
	return level >= s.level.Level()
}

func (s scope) withAttrs(attrs []slog.Attr) scope {
	next := s
	next.attrs = slices.Clip(s.attrs)
	for _, a := range attrs {
		next.attrs = append(next.attrs, scopedAttr{groups: s.groups, attr: a})
	}
	return next
}

func (s scope) withGroup(name string) scope {
	next := s
	next.groups = append(slices.Clip(s.groups), name)
	return next
}

// each calls fn for every leaf attribute of the scope and the record.
func (s scope) each(r slog.Record, fn func(path []string, a slog.Attr)) {
	for _, sa := range s.attrs {
		walkAttr(sa.groups, sa.attr, fn)
	}
	r.Attrs(func(a slog.Attr) bool {
		walkAttr(s.groups, a, fn)
		return true
	})
}

func walkAttr(path []string, a slog.Attr, fn func(path []string, a slog.Attr)) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() != slog.KindGroup {
		fn(path, a)
		return
	}
	// An unnamed group inlines its members
	nested := path
	if a.Key != "" {
		nested = append(slices.Clip(path), a.Key)
	}
	for _, member := range a.Value.Group() {
		walkAttr(nested, member, fn)
	}
}

func joinKey(path []string, key, sep string) string {
	if len(path) == 0 {
		return key
	}
	return strings.Join(path, sep) + sep + key
}
