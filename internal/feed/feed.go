// Package feed provides the table feed subscription.
//
// A table feed delivers a sequence of updates, each carrying one batch of
// new rows per named field. Fields hold either a fixed-type numeric batch or
// a batch of optional typed cell values. The subscription also reports
// connectivity: after every (re)connect the server's first update repeats
// last-known state rather than new samples, which the consumer is expected
// to discard.
//
// Updates are delivered serially on the client's read loop; a consumer never
// sees two deliveries concurrently.
package feed

import "fmt"

// ElemType identifies the element type of a feed value.
type ElemType int

const (
	Int8 ElemType = iota
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
	// Bool and String arrive from some table sources but have no archive
	// mapping; archiving them fails with a named error.
	Bool
	String
)

// ParseElemType parses a wire element type name.
func ParseElemType(s string) (ElemType, error) {
	switch s {
	case "int8":
		return Int8, nil
	case "int16":
		return Int16, nil
	case "int32":
		return Int32, nil
	case "int64":
		return Int64, nil
	case "uint8":
		return Uint8, nil
	case "uint16":
		return Uint16, nil
	case "uint32":
		return Uint32, nil
	case "uint64":
		return Uint64, nil
	case "float32":
		return Float32, nil
	case "float64":
		return Float64, nil
	case "bool":
		return Bool, nil
	case "string":
		return String, nil
	default:
		return 0, fmt.Errorf("unknown element type %q", s)
	}
}

// String returns the wire name of the element type.
func (e ElemType) String() string {
	switch e {
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Uint32:
		return "uint32"
	case Uint64:
		return "uint64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Bool:
		return "bool"
	case String:
		return "string"
	default:
		return fmt.Sprintf("ElemType(%d)", int(e))
	}
}

// Update is one notification from the subscription: a batch of new rows for
// each field, in the server's field order.
type Update struct {
	Fields []Field
}

// Field is one named column's portion of an update.
type Field struct {
	// Name is the field name; it becomes the dataset name.
	Name string

	// Label is the human-readable field label.
	Label string

	// Numeric is set for fixed-type numeric batches.
	Numeric *Numeric

	// Cells is set for heterogeneous cell batches. Nil entries are
	// absent values.
	Cells []*CellValue
}

// Numeric is a fixed-type batch of new rows.
type Numeric struct {
	Elem ElemType

	// Data is a typed slice matching Elem, e.g. []float64 for Float64.
	Data any
}

// CellValue is one present cell: a typed blob.
type CellValue struct {
	Elem ElemType

	// Data is a typed slice matching Elem.
	Data any
}

// Rows returns the number of new rows the field carries.
func (f *Field) Rows() int {
	if f.Numeric != nil {
		return sliceLen(f.Numeric.Data)
	}
	return len(f.Cells)
}

// sliceLen returns the length of a supported typed slice, -1 otherwise.
func sliceLen(v any) int {
	switch s := v.(type) {
	case []int8:
		return len(s)
	case []int16:
		return len(s)
	case []int32:
		return len(s)
	case []int64:
		return len(s)
	case []uint8:
		return len(s)
	case []uint16:
		return len(s)
	case []uint32:
		return len(s)
	case []uint64:
		return len(s)
	case []float32:
		return len(s)
	case []float64:
		return len(s)
	case []bool:
		return len(s)
	case []string:
		return len(s)
	default:
		return -1
	}
}

// Receiver consumes subscription events. Deliveries are serial: the client
// never calls Update or Disconnected concurrently.
type Receiver interface {
	// Update delivers one table update.
	Update(u *Update)

	// Disconnected signals that the subscription lost its source. The next
	// update after a reconnect repeats last-known state.
	Disconnected()
}

// Monitor is an active subscription handle.
type Monitor interface {
	// Close unsubscribes and stops delivery. It does not return until the
	// delivery loop has stopped.
	Close() error
}
