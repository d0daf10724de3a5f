package feed

import (
	"fmt"
	"math"
	"strconv"

	json "github.com/goccy/go-json"
)

// Wire messages. The server frames one JSON object per websocket message.
//
// Client → server:
//
//	{"type":"monitor","table":"BSA:TBL"}
//
// Server → client:
//
//	{"type":"update","fields":[
//	  {"name":"value0","label":"Current","elem":"float64","values":[1.5,2.5]},
//	  {"name":"img","label":"Image","elem":"cell","cells":[null,{"elem":"uint8","values":[1,2,3]}]}
//	]}

type monitorMessage struct {
	Type  string `json:"type"`
	Table string `json:"table"`
}

type updateMessage struct {
	Type   string         `json:"type"`
	Fields []fieldMessage `json:"fields"`
}

type fieldMessage struct {
	Name   string         `json:"name"`
	Label  string         `json:"label"`
	Elem   string         `json:"elem"`
	Values []json.Number  `json:"values,omitempty"`
	Cells  []*cellMessage `json:"cells,omitempty"`
}

type cellMessage struct {
	Elem   string        `json:"elem"`
	Values []json.Number `json:"values"`
}

// encodeMonitor builds the subscribe message for a table.
func encodeMonitor(table string) ([]byte, error) {
	return json.Marshal(monitorMessage{Type: "monitor", Table: table})
}

// decodeUpdate parses one server message into an Update.
// Messages other than updates return (nil, nil).
func decodeUpdate(data []byte) (*Update, error) {
	var msg updateMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode update: %w", err)
	}
	if msg.Type != "update" {
		return nil, nil
	}

	u := &Update{Fields: make([]Field, 0, len(msg.Fields))}
	for _, fm := range msg.Fields {
		f := Field{Name: fm.Name, Label: fm.Label}

		if fm.Elem == "cell" {
			cells := make([]*CellValue, len(fm.Cells))
			for i, cm := range fm.Cells {
				if cm == nil {
					continue
				}
				elem, err := ParseElemType(cm.Elem)
				if err != nil {
					return nil, fmt.Errorf("field %s cell %d: %w", fm.Name, i, err)
				}
				data, err := convertNumbers(elem, cm.Values)
				if err != nil {
					return nil, fmt.Errorf("field %s cell %d: %w", fm.Name, i, err)
				}
				cells[i] = &CellValue{Elem: elem, Data: data}
			}
			f.Cells = cells
		} else {
			elem, err := ParseElemType(fm.Elem)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", fm.Name, err)
			}
			data, err := convertNumbers(elem, fm.Values)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", fm.Name, err)
			}
			f.Numeric = &Numeric{Elem: elem, Data: data}
		}

		u.Fields = append(u.Fields, f)
	}
	return u, nil
}

// convertNumbers turns wire numbers into the typed slice for elem. Integer
// values outside the element type's range reject the field rather than wrap.
func convertNumbers(elem ElemType, values []json.Number) (any, error) {
	switch elem {
	case Float32:
		out := make([]float32, len(values))
		for i, n := range values {
			f, err := n.Float64()
			if err != nil {
				return nil, err
			}
			out[i] = float32(f)
		}
		return out, nil
	case Float64:
		out := make([]float64, len(values))
		for i, n := range values {
			f, err := n.Float64()
			if err != nil {
				return nil, err
			}
			out[i] = f
		}
		return out, nil
	case Int8:
		out := make([]int8, len(values))
		for i, n := range values {
			x, err := parseInt(n, math.MinInt8, math.MaxInt8)
			if err != nil {
				return nil, err
			}
			out[i] = int8(x)
		}
		return out, nil
	case Int16:
		out := make([]int16, len(values))
		for i, n := range values {
			x, err := parseInt(n, math.MinInt16, math.MaxInt16)
			if err != nil {
				return nil, err
			}
			out[i] = int16(x)
		}
		return out, nil
	case Int32:
		out := make([]int32, len(values))
		for i, n := range values {
			x, err := parseInt(n, math.MinInt32, math.MaxInt32)
			if err != nil {
				return nil, err
			}
			out[i] = int32(x)
		}
		return out, nil
	case Int64:
		out := make([]int64, len(values))
		for i, n := range values {
			x, err := n.Int64()
			if err != nil {
				return nil, err
			}
			out[i] = x
		}
		return out, nil
	case Uint8:
		out := make([]uint8, len(values))
		for i, n := range values {
			x, err := parseUint(n, math.MaxUint8)
			if err != nil {
				return nil, err
			}
			out[i] = uint8(x)
		}
		return out, nil
	case Uint16:
		out := make([]uint16, len(values))
		for i, n := range values {
			x, err := parseUint(n, math.MaxUint16)
			if err != nil {
				return nil, err
			}
			out[i] = uint16(x)
		}
		return out, nil
	case Uint32:
		out := make([]uint32, len(values))
		for i, n := range values {
			x, err := parseUint(n, math.MaxUint32)
			if err != nil {
				return nil, err
			}
			out[i] = uint32(x)
		}
		return out, nil
	case Uint64:
		out := make([]uint64, len(values))
		for i, n := range values {
			x, err := parseUint(n, math.MaxUint64)
			if err != nil {
				return nil, err
			}
			out[i] = x
		}
		return out, nil
	default:
		return nil, fmt.Errorf("element type %s has no wire number form", elem)
	}
}

// parseInt parses a wire number as a signed integer within [lo, hi].
func parseInt(n json.Number, lo, hi int64) (int64, error) {
	x, err := n.Int64()
	if err != nil {
		return 0, err
	}
	if x < lo || x > hi {
		return 0, fmt.Errorf("value %s out of range [%d, %d]", n, lo, hi)
	}
	return x, nil
}

// parseUint parses a wire number as an unsigned integer no greater than hi.
// Uint64 values use the full 64-bit range, which Number.Int64 cannot carry.
func parseUint(n json.Number, hi uint64) (uint64, error) {
	x, err := strconv.ParseUint(n.String(), 10, 64)
	if err != nil {
		return 0, err
	}
	if x > hi {
		return 0, fmt.Errorf("value %s out of range [0, %d]", n, hi)
	}
	return x, nil
}
