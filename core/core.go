package core

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Operation represents one of the generated endpoint operations.
type Operation string

// all operations a generated resource supports
const (
	OperationReadAll Operation = "read_all"
	OperationReadOne Operation = "read_one"
	OperationCreate  Operation = "create"
	OperationUpdate  Operation = "update"
	OperationDelete  Operation = "delete"
)

// Operations lists all generated operations in registration order.
var Operations = []Operation{
	OperationReadAll,
	OperationReadOne,
	OperationCreate,
	OperationUpdate,
	OperationDelete,
}

// UnmarshalJSON is a custom JSON unmarshaller
func (o *Operation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*o = Operation(s)
	switch *o {
	case OperationReadAll, OperationReadOne, OperationCreate, OperationUpdate, OperationDelete:
		return nil
	default:
		return fmt.Errorf("%s is not valid Operation", s)
	}
}

// Plural returns the plural form of the passed singular string.
//
// This is the algorithm used to create idiomatic REST routes
func Plural(singular string) string {
	if strings.HasSuffix(singular, "y") {
		return strings.TrimSuffix(singular, "y") + "ies"
	}
	if strings.HasSuffix(singular, "child") {
		return strings.TrimSuffix(singular, "child") + "children"
	}
	return singular + "s"
}
