/*Package filter compiles client-supplied filter expressions into SQL
predicates.

The wire form is a flat JSON object: keys are field names, values are
either a literal (implying equality) or an object with exactly one
operator key. Multiple keys are AND-combined. There is deliberately no
support for OR, nesting or cross-field comparisons.
*/
package filter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/succeedex/modelapi/core/descriptor"
)

// error kinds for filter compilation
const (
	KindUnknownField        = "unknown field"
	KindUnsupportedOperator = "unsupported operator"
	KindBadOperand          = "bad operand"
)

// Error is a filter compilation error. Every Error maps to a
// validation failure at the API boundary.
type Error struct {
	Kind  string
	Field string
	Hint  string
}

func (e *Error) Error() string {
	msg := e.Kind + " '" + e.Field + "'"
	if e.Hint != "" {
		msg += ": " + e.Hint
	}
	return msg
}

// Predicate is a compiled filter: a SQL fragment with numbered
// placeholders and the matching arguments. A nil *Predicate means
// "no predicate", which is distinct from a predicate that matches
// nothing.
type Predicate struct {
	SQL  string
	Args []interface{}
}

var operators = map[string]string{
	"eq":   "=",
	"ne":   "<>",
	"gt":   ">",
	"gte":  ">=",
	"lt":   "<",
	"lte":  "<=",
	"like": "LIKE",
	"in":   "IN",
}

// Compile translates a parsed filter expression into a predicate for
// the given entity. Placeholder numbering starts at firstArg, so the
// fragment can be appended to a query that already carries parameters.
//
// A nil or empty expression compiles to a nil predicate.
func Compile(d *descriptor.Descriptor, expression map[string]interface{}, firstArg int) (*Predicate, error) {
	if len(expression) == 0 {
		return nil, nil
	}

	// map iteration order is random, the compiled fragment must not be
	keys := make([]string, 0, len(expression))
	for key := range expression {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var clauses []string
	var args []interface{}

	for _, key := range keys {
		field, ok := d.SelectableField(key)
		if !ok {
			return nil, &Error{Kind: KindUnknownField, Field: key}
		}

		operator := "eq"
		operand := expression[key]
		if object, isObject := operand.(map[string]interface{}); isObject {
			if len(object) != 1 {
				return nil, &Error{Kind: KindUnsupportedOperator, Field: key,
					Hint: "operator object must contain exactly one operator"}
			}
			for op, value := range object {
				if _, known := operators[op]; !known {
					return nil, &Error{Kind: KindUnsupportedOperator, Field: key, Hint: op}
				}
				operator = op
				operand = value
			}
		}

		clause, clauseArgs, err := compileClause(field, key, operator, operand, firstArg+len(args))
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)
		args = append(args, clauseArgs...)
	}

	return &Predicate{SQL: strings.Join(clauses, " AND "), Args: args}, nil
}

func compileClause(field descriptor.Field, key, operator string, operand interface{}, arg int) (string, []interface{}, error) {
	column := `"` + key + `"`

	if operand == nil {
		switch operator {
		case "eq":
			return column + " IS NULL", nil, nil
		case "ne":
			return column + " IS NOT NULL", nil, nil
		}
		return "", nil, &Error{Kind: KindBadOperand, Field: key, Hint: "null operand requires eq or ne"}
	}

	if operator == "in" {
		list, ok := operand.([]interface{})
		if !ok || len(list) == 0 {
			return "", nil, &Error{Kind: KindBadOperand, Field: key, Hint: "in requires a non-empty array"}
		}
		placeholders := make([]string, len(list))
		args := make([]interface{}, len(list))
		for i, element := range list {
			value, err := convertOperand(field, key, element)
			if err != nil {
				return "", nil, err
			}
			placeholders[i] = "$" + strconv.Itoa(arg+i)
			args[i] = value
		}
		return column + " IN (" + strings.Join(placeholders, ",") + ")", args, nil
	}

	if operator == "like" && field.Type != descriptor.TypeString {
		return "", nil, &Error{Kind: KindBadOperand, Field: key, Hint: "like requires a string field"}
	}

	value, err := convertOperand(field, key, operand)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("%s %s $%d", column, operators[operator], arg), []interface{}{value}, nil
}

// convertOperand checks a JSON operand against the field's semantic
// type and converts it into a driver value.
func convertOperand(field descriptor.Field, key string, operand interface{}) (interface{}, error) {
	switch field.Type {
	case descriptor.TypeString:
		if s, ok := operand.(string); ok {
			return s, nil
		}
	case descriptor.TypeInteger:
		if f, ok := operand.(float64); ok {
			return int64(f), nil
		}
	case descriptor.TypeFloat:
		if f, ok := operand.(float64); ok {
			return f, nil
		}
	case descriptor.TypeBoolean:
		if b, ok := operand.(bool); ok {
			return b, nil
		}
	case descriptor.TypeDatetime:
		if s, ok := operand.(string); ok {
			t, err := time.Parse(time.RFC3339, s)
			if err == nil {
				return t.UTC(), nil
			}
		}
	}
	return nil, &Error{Kind: KindBadOperand, Field: key,
		Hint: fmt.Sprintf("expected %s", field.Type)}
}
