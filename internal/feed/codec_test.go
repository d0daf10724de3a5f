package feed

import (
	"strings"
	"testing"
)

func TestEncodeMonitor(t *testing.T) {
	data, err := encodeMonitor("BSA:TBL")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got := string(data)
	if !strings.Contains(got, `"type":"monitor"`) || !strings.Contains(got, `"table":"BSA:TBL"`) {
		t.Errorf("monitor message = %s", got)
	}
}

func TestDecodeNumericUpdate(t *testing.T) {
	u, err := decodeUpdate([]byte(`{
		"type": "update",
		"fields": [
			{"name": "current", "label": "Beam Current", "elem": "float64", "values": [1.5, 2.5, 3.5]},
			{"name": "count", "label": "Pulse Count", "elem": "uint32", "values": [10, 20]}
		]
	}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if u == nil || len(u.Fields) != 2 {
		t.Fatalf("update = %+v", u)
	}

	f := &u.Fields[0]
	if f.Name != "current" || f.Label != "Beam Current" {
		t.Errorf("field 0 = %+v", f)
	}
	if f.Numeric == nil || f.Numeric.Elem != Float64 {
		t.Fatalf("field 0 numeric = %+v", f.Numeric)
	}
	vals, ok := f.Numeric.Data.([]float64)
	if !ok || len(vals) != 3 || vals[1] != 2.5 {
		t.Errorf("field 0 values = %v", f.Numeric.Data)
	}
	if f.Rows() != 3 {
		t.Errorf("field 0 rows = %d", f.Rows())
	}

	g := &u.Fields[1]
	counts, ok := g.Numeric.Data.([]uint32)
	if !ok || len(counts) != 2 || counts[1] != 20 {
		t.Errorf("field 1 values = %v", g.Numeric.Data)
	}
}

func TestDecodeCellUpdate(t *testing.T) {
	u, err := decodeUpdate([]byte(`{
		"type": "update",
		"fields": [
			{"name": "img", "label": "Image", "elem": "cell", "cells": [
				null,
				{"elem": "uint8", "values": [1, 2, 3]},
				null
			]}
		]
	}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(u.Fields) != 1 {
		t.Fatalf("fields = %d", len(u.Fields))
	}

	f := &u.Fields[0]
	if f.Numeric != nil {
		t.Error("cell field has numeric payload")
	}
	if len(f.Cells) != 3 {
		t.Fatalf("cells = %d", len(f.Cells))
	}
	if f.Cells[0] != nil || f.Cells[2] != nil {
		t.Error("absent cells not nil")
	}
	cell := f.Cells[1]
	if cell == nil || cell.Elem != Uint8 {
		t.Fatalf("present cell = %+v", cell)
	}
	blob, ok := cell.Data.([]uint8)
	if !ok || len(blob) != 3 || blob[2] != 3 {
		t.Errorf("cell data = %v", cell.Data)
	}
	if f.Rows() != 3 {
		t.Errorf("rows = %d", f.Rows())
	}
}

func TestDecodeUint64FullRange(t *testing.T) {
	u, err := decodeUpdate([]byte(`{
		"type": "update",
		"fields": [
			{"name": "id", "elem": "uint64", "values": [0, 9223372036854775808, 18446744073709551615]}
		]
	}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	vals, ok := u.Fields[0].Numeric.Data.([]uint64)
	if !ok || len(vals) != 3 {
		t.Fatalf("values = %v", u.Fields[0].Numeric.Data)
	}
	if vals[1] != 1<<63 {
		t.Errorf("vals[1] = %d, want %d", vals[1], uint64(1)<<63)
	}
	if vals[2] != ^uint64(0) {
		t.Errorf("vals[2] = %d, want %d", vals[2], ^uint64(0))
	}
}

func TestDecodeRejectsOutOfRangeIntegers(t *testing.T) {
	for _, tt := range []struct {
		elem  string
		value string
	}{
		{"int8", "200"},
		{"int8", "-129"},
		{"int16", "40000"},
		{"int32", "3000000000"},
		{"uint8", "300"},
		{"uint8", "-1"},
		{"uint16", "70000"},
		{"uint32", "5000000000"},
		{"uint64", "-1"},
		{"uint64", "18446744073709551616"},
	} {
		msg := `{"type":"update","fields":[{"name":"x","elem":"` +
			tt.elem + `","values":[` + tt.value + `]}]}`
		if _, err := decodeUpdate([]byte(msg)); err == nil {
			t.Errorf("%s value %s accepted, want range error", tt.elem, tt.value)
		}
	}
}

func TestDecodeNonUpdateIgnored(t *testing.T) {
	for _, msg := range []string{
		`{"type":"pong"}`,
		`{"type":"subscribed","table":"t"}`,
		`{}`,
	} {
		u, err := decodeUpdate([]byte(msg))
		if err != nil {
			t.Errorf("decode %s: %v", msg, err)
		}
		if u != nil {
			t.Errorf("decode %s produced an update", msg)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	for _, msg := range []string{
		`not json`,
		`{"type":"update","fields":[{"name":"x","elem":"complex128","values":[1]}]}`,
		`{"type":"update","fields":[{"name":"x","elem":"int32","values":["nan"]}]}`,
	} {
		if _, err := decodeUpdate([]byte(msg)); err == nil {
			t.Errorf("decode %s succeeded, want error", msg)
		}
	}
}

func TestParseElemType(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want ElemType
	}{
		{"float32", Float32},
		{"float64", Float64},
		{"int8", Int8},
		{"int16", Int16},
		{"int32", Int32},
		{"int64", Int64},
		{"uint8", Uint8},
		{"uint16", Uint16},
		{"uint32", Uint32},
		{"uint64", Uint64},
		{"bool", Bool},
		{"string", String},
	} {
		got, err := ParseElemType(tt.in)
		if err != nil {
			t.Errorf("ParseElemType(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseElemType(%q) = %v, want %v", tt.in, got, tt.want)
		}
		if got.String() != tt.in {
			t.Errorf("%v.String() = %q, want %q", got, got.String(), tt.in)
		}
	}

	if _, err := ParseElemType("complex128"); err == nil {
		t.Error("unknown element type accepted")
	}
}
