package query

import (
	"strings"
)

// Expr is a node of a compiled query. String renders the engine query text.
type Expr interface {
	String() string
}

// Op joins the children of a Group.
type Op int

const (
	// And requires every child to match.
	And Op = iota
	// Or requires at least one child to match.
	Or
)

func (o Op) String() string {
	if o == Or {
		return "OR"
	}
	return "AND"
}

// Field names understood by the index primitives.
const (
	FieldText     = "text"
	FieldTags     = "tags"
	FieldFilename = "filename"
	FieldFileType = "filetype"
	FieldHasFiles = "hasfiles"
	FieldSender   = "senderId"
	FieldThread   = "threadId"
)

// Terms matches any of Values against Field. Values are phrases for
// analyzed fields and exact terms for keyword fields.
type Terms struct {
	Field  string
	Values []string

	// Quoted renders each value in double quotes.
	Quoted bool
	// Wrapped renders the clause inside parentheses.
	Wrapped bool
	// Raw, when set, replaces the rendered value list verbatim.
	Raw string
}

func (t *Terms) String() string {
	var body string
	if t.Raw != "" {
		body = t.Raw
	} else {
		parts := make([]string, len(t.Values))
		for i, v := range t.Values {
			if t.Quoted {
				parts[i] = `"` + v + `"`
			} else {
				parts[i] = v
			}
		}
		body = strings.Join(parts, " ")
	}

	s := t.Field + ":(" + body + ")"
	if t.Wrapped {
		return "(" + s + ")"
	}
	return s
}

// Flag matches documents whose boolean Field equals Value.
type Flag struct {
	Field string
	Value bool
}

func (f *Flag) String() string {
	if f.Value {
		return f.Field + ":true"
	}
	return f.Field + ":false"
}

// Group combines expressions with a single operator.
type Group struct {
	Op    Op
	Exprs []Expr
}

func (g *Group) String() string {
	parts := make([]string, len(g.Exprs))
	for i, e := range g.Exprs {
		parts[i] = e.String()
	}
	joined := strings.Join(parts, " "+g.Op.String()+" ")
	if g.Op == Or {
		return "(" + joined + ")"
	}
	return joined
}

// join combines non-nil expressions, flattening nested groups of the same op.
// Returns nil when nothing is left and the bare expression when one is.
func join(op Op, exprs ...Expr) Expr {
	var out []Expr
	for _, e := range exprs {
		if e == nil {
			continue
		}
		if g, ok := e.(*Group); ok && g.Op == op {
			out = append(out, g.Exprs...)
			continue
		}
		out = append(out, e)
	}

	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return &Group{Op: op, Exprs: out}
	}
}
