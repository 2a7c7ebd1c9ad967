package filter

import (
	"fmt"
	"strings"

	celast "github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/operators"

	"github.com/moshimoshi/fukushu/internal/errs"
)

// converter renders a type-checked CEL expression tree as one SQL predicate.
// Values are never inlined; every literal becomes a positional argument.
type converter struct {
	fields map[string]Field
	args   []any
	offset int
}

// bind appends one argument and returns its placeholder.
func (c *converter) bind(value any) string {
	c.args = append(c.args, value)
	return fmt.Sprintf("$%d", c.offset+len(c.args))
}

func (c *converter) field(ident string) (Field, error) {
	field, ok := c.fields[ident]
	if !ok {
		return Field{}, errs.ValidationFailed("unknown filter field %q", ident)
	}
	return field, nil
}

func (c *converter) visit(expr celast.Expr) (string, error) {
	switch expr.Kind() {
	case celast.CallKind:
		return c.visitCall(expr)
	case celast.IdentKind:
		return c.visitIdent(expr)
	case celast.LiteralKind:
		if value, ok := expr.AsLiteral().Value().(bool); ok {
			if value {
				return "TRUE", nil
			}
			return "FALSE", nil
		}
		return "", errs.ValidationFailed("literal cannot be used as a predicate")
	default:
		return "", errs.ValidationFailed("unsupported filter expression")
	}
}

func (c *converter) visitCall(expr celast.Expr) (string, error) {
	call := expr.AsCall()
	switch call.FunctionName() {
	case operators.LogicalAnd:
		return c.visitLogical(call, "AND")
	case operators.LogicalOr:
		return c.visitLogical(call, "OR")
	case operators.LogicalNot:
		inner, err := c.visit(call.Args()[0])
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	case operators.Equals, operators.NotEquals,
		operators.Less, operators.LessEquals,
		operators.Greater, operators.GreaterEquals:
		return c.visitCompare(call)
	case operators.In:
		return c.visitIn(call)
	default:
		return "", errs.ValidationFailed("unsupported filter function %q", call.FunctionName())
	}
}

func (c *converter) visitLogical(call celast.CallExpr, op string) (string, error) {
	parts := make([]string, 0, len(call.Args()))
	for _, arg := range call.Args() {
		part, err := c.visit(arg)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return "(" + strings.Join(parts, " "+op+" ") + ")", nil
}

// visitCompare renders `field op literal`. The field may appear on either
// side; the operator is mirrored when it is on the right.
func (c *converter) visitCompare(call celast.CallExpr) (string, error) {
	left, right := call.Args()[0], call.Args()[1]

	identExpr, valueExpr := left, right
	flipped := false
	if left.Kind() != celast.IdentKind {
		if right.Kind() != celast.IdentKind {
			return "", errs.ValidationFailed("comparison must reference a filter field")
		}
		identExpr, valueExpr = right, left
		flipped = true
	}
	field, err := c.field(identExpr.AsIdent())
	if err != nil {
		return "", err
	}
	if valueExpr.Kind() != celast.LiteralKind {
		return "", errs.ValidationFailed("comparison value must be a literal")
	}
	value := valueExpr.AsLiteral().Value()

	op, err := sqlOperator(call.FunctionName(), flipped)
	if err != nil {
		return "", err
	}

	switch field.Type {
	case BoolField:
		if op != "=" && op != "<>" {
			return "", errs.ValidationFailed("field %q only supports equality", identExpr.AsIdent())
		}
		truthy, ok := value.(bool)
		if !ok {
			return "", errs.ValidationFailed("field %q compares against a boolean", identExpr.AsIdent())
		}
		if (op == "=") == truthy {
			return field.Column + " IS NOT NULL", nil
		}
		return field.Column + " IS NULL", nil
	case TimestampField:
		return fmt.Sprintf("%s %s to_timestamp(%s::double precision / 1000.0)", field.Column, op, c.bind(value)), nil
	default:
		return fmt.Sprintf("%s %s %s", field.Column, op, c.bind(value)), nil
	}
}

// visitIn renders either membership in a TEXT[] column ("x" in tags) or a
// literal-list restriction (status in ["NEW", "LEARNING"]).
func (c *converter) visitIn(call celast.CallExpr) (string, error) {
	left, right := call.Args()[0], call.Args()[1]

	if right.Kind() == celast.IdentKind {
		field, err := c.field(right.AsIdent())
		if err != nil {
			return "", err
		}
		if field.Type != StringListField {
			return "", errs.ValidationFailed("field %q is not a list", right.AsIdent())
		}
		if left.Kind() != celast.LiteralKind {
			return "", errs.ValidationFailed("membership value must be a literal")
		}
		return fmt.Sprintf("%s = ANY (%s)", c.bind(left.AsLiteral().Value()), field.Column), nil
	}

	if left.Kind() == celast.IdentKind && right.Kind() == celast.ListKind {
		field, err := c.field(left.AsIdent())
		if err != nil {
			return "", err
		}
		if field.Type == StringListField || field.Type == BoolField {
			return "", errs.ValidationFailed("field %q does not support list restriction", left.AsIdent())
		}
		elements := right.AsList().Elements()
		if len(elements) == 0 {
			return "FALSE", nil
		}
		placeholders := make([]string, 0, len(elements))
		for _, element := range elements {
			if element.Kind() != celast.LiteralKind {
				return "", errs.ValidationFailed("list elements must be literals")
			}
			placeholders = append(placeholders, c.bind(element.AsLiteral().Value()))
		}
		return fmt.Sprintf("%s IN (%s)", field.Column, strings.Join(placeholders, ", ")), nil
	}

	return "", errs.ValidationFailed("unsupported membership expression")
}

// visitIdent renders a bare boolean field reference.
func (c *converter) visitIdent(expr celast.Expr) (string, error) {
	field, err := c.field(expr.AsIdent())
	if err != nil {
		return "", err
	}
	if field.Type != BoolField {
		return "", errs.ValidationFailed("field %q cannot stand alone", expr.AsIdent())
	}
	return field.Column + " IS NOT NULL", nil
}

func sqlOperator(fn string, flipped bool) (string, error) {
	switch fn {
	case operators.Equals:
		return "=", nil
	case operators.NotEquals:
		return "<>", nil
	case operators.Less:
		if flipped {
			return ">", nil
		}
		return "<", nil
	case operators.LessEquals:
		if flipped {
			return ">=", nil
		}
		return "<=", nil
	case operators.Greater:
		if flipped {
			return "<", nil
		}
		return ">", nil
	case operators.GreaterEquals:
		if flipped {
			return "<=", nil
		}
		return ">=", nil
	default:
		return "", errs.ValidationFailed("unsupported comparison %q", fn)
	}
}
