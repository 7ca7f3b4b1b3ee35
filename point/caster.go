package point

import (
	"strconv"
	"strings"

	"github.com/c360/opcbridge/errors"
	"github.com/c360/opcbridge/opcua"
)

// RawFields is one unvalidated row of a point-definition source. All fields
// are the raw strings read from the file.
type RawFields struct {
	Alias    string
	NodeID   string
	DataType string
	Initial  string
	Folder   string
	Writable string
}

// typeTable maps normalized datatype names to variant types. Lookup is
// case-insensitive on the trimmed field.
var typeTable = map[string]opcua.VariantType{
	"bool":    opcua.TypeBoolean,
	"boolean": opcua.TypeBoolean,
	"sbyte":   opcua.TypeSByte,
	"int8":    opcua.TypeSByte,
	"byte":    opcua.TypeByte,
	"uint8":   opcua.TypeByte,
	"int16":   opcua.TypeInt16,
	"uint16":  opcua.TypeUInt16,
	"int":     opcua.TypeInt32,
	"int32":   opcua.TypeInt32,
	"uint32":  opcua.TypeUInt32,
	"int64":   opcua.TypeInt64,
	"uint64":  opcua.TypeUInt64,
	"float":   opcua.TypeFloat,
	"float32": opcua.TypeFloat,
	"double":  opcua.TypeDouble,
	"float64": opcua.TypeDouble,
	"string":  opcua.TypeString,
}

// Truthy and falsy literal sets accepted by the boolean rule. The empty
// string is falsy so an unfilled CSV cell reads as false.
var (
	truthySet = map[string]bool{"1": true, "true": true, "t": true, "yes": true, "y": true, "si": true, "sí": true}
	falsySet  = map[string]bool{"0": true, "false": true, "f": true, "no": true, "n": true, "": true}
)

// Cast validates and converts raw fields into a typed Definition. It is pure:
// no side effects beyond the returned value. Any unparseable field yields a
// ValidationError naming the offending field and value.
func Cast(raw RawFields) (Definition, error) {
	typeName := strings.ToLower(strings.TrimSpace(raw.DataType))
	vt, ok := typeTable[typeName]
	if !ok {
		return Definition{}, &errors.ValidationError{
			Field:  "datatype",
			Value:  raw.DataType,
			Reason: "not in supported type table",
			Err:    errors.ErrUnsupportedType,
		}
	}

	initial, err := castValue(vt, raw.Initial)
	if err != nil {
		return Definition{}, err
	}

	writable, err := castBool("writable", raw.Writable)
	if err != nil {
		return Definition{}, err
	}

	return Definition{
		Alias:      strings.TrimSpace(raw.Alias),
		Identifier: strings.TrimSpace(raw.NodeID),
		Type:       vt,
		Initial:    initial,
		Folder:     strings.TrimSpace(raw.Folder),
		Writable:   writable,
	}, nil
}

// castValue converts the raw initial-value text to the native value for vt.
// Numeric types cast the empty string to zero of the right kind; floats
// accept a comma decimal separator.
func castValue(vt opcua.VariantType, raw string) (any, error) {
	s := strings.TrimSpace(raw)

	switch vt {
	case opcua.TypeBoolean:
		return castBool("initial", s)

	case opcua.TypeString:
		return s, nil

	case opcua.TypeSByte, opcua.TypeInt16, opcua.TypeInt32, opcua.TypeInt64:
		return castInt(vt, s)

	case opcua.TypeByte, opcua.TypeUInt16, opcua.TypeUInt32, opcua.TypeUInt64:
		return castUint(vt, s)

	case opcua.TypeFloat, opcua.TypeDouble:
		return castFloat(vt, s)
	}

	return nil, errors.NewValidation("datatype", vt.String(), "no cast rule for type")
}

func castBool(field, raw string) (bool, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if truthySet[s] {
		return true, nil
	}
	if falsySet[s] {
		return false, nil
	}
	return false, errors.NewValidation(field, raw, "not a recognized boolean literal")
}

func castInt(vt opcua.VariantType, s string) (any, error) {
	var bits int
	switch vt {
	case opcua.TypeSByte:
		bits = 8
	case opcua.TypeInt16:
		bits = 16
	case opcua.TypeInt32:
		bits = 32
	default:
		bits = 64
	}

	var v int64
	if s != "" {
		var err error
		v, err = strconv.ParseInt(s, 10, bits)
		if err != nil {
			return nil, errors.NewValidation("initial", s, "not a base-10 "+vt.String())
		}
	}

	switch vt {
	case opcua.TypeSByte:
		return int8(v), nil
	case opcua.TypeInt16:
		return int16(v), nil
	case opcua.TypeInt32:
		return int32(v), nil
	default:
		return v, nil
	}
}

func castUint(vt opcua.VariantType, s string) (any, error) {
	var bits int
	switch vt {
	case opcua.TypeByte:
		bits = 8
	case opcua.TypeUInt16:
		bits = 16
	case opcua.TypeUInt32:
		bits = 32
	default:
		bits = 64
	}

	var v uint64
	if s != "" {
		var err error
		v, err = strconv.ParseUint(s, 10, bits)
		if err != nil {
			return nil, errors.NewValidation("initial", s, "not a base-10 "+vt.String())
		}
	}

	switch vt {
	case opcua.TypeByte:
		return uint8(v), nil
	case opcua.TypeUInt16:
		return uint16(v), nil
	case opcua.TypeUInt32:
		return uint32(v), nil
	default:
		return v, nil
	}
}

func castFloat(vt opcua.VariantType, s string) (any, error) {
	var v float64
	if s != "" {
		// PLC exports from comma-decimal locales are common.
		normalized := strings.ReplaceAll(s, ",", ".")
		var err error
		bits := 64
		if vt == opcua.TypeFloat {
			bits = 32
		}
		v, err = strconv.ParseFloat(normalized, bits)
		if err != nil {
			return nil, errors.NewValidation("initial", s, "not a "+vt.String())
		}
	}

	if vt == opcua.TypeFloat {
		return float32(v), nil
	}
	return v, nil
}

// SupportedTypes returns the accepted datatype names, for diagnostics.
func SupportedTypes() []string {
	names := make([]string, 0, len(typeTable))
	for name := range typeTable {
		names = append(names, name)
	}
	return names
}
