// Package filter compiles CEL filter expressions into SQL predicates for the
// hosted postgres store. Each engine is built against a fixed schema of
// filterable fields; anything outside that schema fails compilation.
package filter

import (
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/moshimoshi/fukushu/internal/errs"
)

// FieldType describes how a filter field binds and renders.
type FieldType int

const (
	StringField FieldType = iota
	IntField
	DoubleField
	// BoolField renders against a nullable column: true means IS NOT NULL.
	BoolField
	// TimestampField takes epoch-millisecond integers and renders against a
	// TIMESTAMPTZ column.
	TimestampField
	StringListField
)

// Field maps a CEL identifier to its SQL column.
type Field struct {
	Column string
	Type   FieldType
}

// Statement is a rendered predicate with positional arguments.
type Statement struct {
	SQL  string
	Args []any
}

// RenderOptions controls how a compiled expression is rendered.
type RenderOptions struct {
	// ArgOffset is the number of placeholders already bound by the caller;
	// rendered placeholders start at $ArgOffset+1.
	ArgOffset int
}

// Engine compiles filter expressions for one entity.
type Engine struct {
	env    *cel.Env
	fields map[string]Field
}

// NewEngine builds an engine over the given identifier schema.
func NewEngine(fields map[string]Field) (*Engine, error) {
	decls := make([]cel.EnvOption, 0, len(fields))
	for ident, field := range fields {
		var t *cel.Type
		switch field.Type {
		case StringField:
			t = cel.StringType
		case IntField, TimestampField:
			t = cel.IntType
		case DoubleField:
			t = cel.DoubleType
		case BoolField:
			t = cel.BoolType
		case StringListField:
			t = cel.ListType(cel.StringType)
		default:
			return nil, errs.Internal(nil, "unknown field type for %q", ident)
		}
		decls = append(decls, cel.Variable(ident, t))
	}
	env, err := cel.NewEnv(decls...)
	if err != nil {
		return nil, errs.Internal(err, "create filter environment")
	}
	return &Engine{env: env, fields: fields}, nil
}

// CompileToStatement parses, type-checks and renders one filter expression.
// Every malformed or out-of-schema expression fails with VALIDATION_FAILED.
func (e *Engine) CompileToStatement(expression string, opts RenderOptions) (*Statement, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, errs.ValidationFailed("filter cannot be empty")
	}
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, errs.ValidationFailed("invalid filter: %s", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, errs.ValidationFailed("filter must evaluate to a boolean")
	}

	conv := &converter{fields: e.fields, offset: opts.ArgOffset}
	sql, err := conv.visit(ast.NativeRep().Expr())
	if err != nil {
		return nil, err
	}
	return &Statement{SQL: sql, Args: conv.args}, nil
}

var reviewItemEngine = sync.OnceValues(func() (*Engine, error) {
	return NewEngine(map[string]Field{
		"content_type":   {Column: "content_type", Type: StringField},
		"content_id":     {Column: "content_id", Type: StringField},
		"status":         {Column: "status", Type: StringField},
		"priority":       {Column: "priority", Type: StringField},
		"pinned":         {Column: "pinned_ts", Type: BoolField},
		"interval":       {Column: "interval_days", Type: IntField},
		"ease_factor":    {Column: "ease_factor", Type: DoubleField},
		"repetitions":    {Column: "repetitions", Type: IntField},
		"next_review_ts": {Column: "next_review_ts", Type: TimestampField},
		"created_ts":     {Column: "created_ts", Type: TimestampField},
		"updated_ts":     {Column: "updated_ts", Type: TimestampField},
		"tags":           {Column: "tags", Type: StringListField},
	})
})

// DefaultReviewItemEngine returns the shared engine for review item filters.
func DefaultReviewItemEngine() (*Engine, error) {
	return reviewItemEngine()
}
