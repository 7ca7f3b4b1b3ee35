package opcua

// VariantType is the tagged value type every variable node's value conforms to.
type VariantType int

// Supported variant types. The zero value is TypeNull.
const (
	TypeNull VariantType = iota
	TypeBoolean
	TypeSByte
	TypeByte
	TypeInt16
	TypeUInt16
	TypeInt32
	TypeUInt32
	TypeInt64
	TypeUInt64
	TypeFloat
	TypeDouble
	TypeString
)

// String returns the variant type name.
func (t VariantType) String() string {
	switch t {
	case TypeBoolean:
		return "Boolean"
	case TypeSByte:
		return "SByte"
	case TypeByte:
		return "Byte"
	case TypeInt16:
		return "Int16"
	case TypeUInt16:
		return "UInt16"
	case TypeInt32:
		return "Int32"
	case TypeUInt32:
		return "UInt32"
	case TypeInt64:
		return "Int64"
	case TypeUInt64:
		return "UInt64"
	case TypeFloat:
		return "Float"
	case TypeDouble:
		return "Double"
	case TypeString:
		return "String"
	default:
		return "Null"
	}
}

// Conforms reports whether a native Go value matches the variant type.
func (t VariantType) Conforms(v any) bool {
	switch t {
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeSByte:
		_, ok := v.(int8)
		return ok
	case TypeByte:
		_, ok := v.(uint8)
		return ok
	case TypeInt16:
		_, ok := v.(int16)
		return ok
	case TypeUInt16:
		_, ok := v.(uint16)
		return ok
	case TypeInt32:
		_, ok := v.(int32)
		return ok
	case TypeUInt32:
		_, ok := v.(uint32)
		return ok
	case TypeInt64:
		_, ok := v.(int64)
		return ok
	case TypeUInt64:
		_, ok := v.(uint64)
		return ok
	case TypeFloat:
		_, ok := v.(float32)
		return ok
	case TypeDouble:
		_, ok := v.(float64)
		return ok
	case TypeString:
		_, ok := v.(string)
		return ok
	default:
		return false
	}
}
