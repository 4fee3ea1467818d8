package value

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/sqlbridge/internal/sqlerr"
)

// ToNative converts a host value into a Value.
//
// Numbers are down-classified: a float that survives truncation to int32
// or int64 becomes Int, anything else stays Float. Byte slices are copied.
// Objects (maps, structs, slices other than []byte, pointers) are rejected
// with an UNSUPPORTED_VALUE error.
func ToNative(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		if b, ok := val.(Blob); ok {
			return NewBlob(b), nil
		}
		return val, nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int8:
		return Int(val), nil
	case int16:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint:
		return fromUint(uint64(val)), nil
	case uint8:
		return Int(val), nil
	case uint16:
		return Int(val), nil
	case uint32:
		return Int(val), nil
	case uint64:
		return fromUint(val), nil
	case float32:
		return fromFloat(float64(val)), nil
	case float64:
		return fromFloat(val), nil
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return Int(n), nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, sqlerr.NewUnsupportedValueError(fmt.Sprintf("invalid number %q", val.String()))
		}
		return fromFloat(f), nil
	case string:
		return Text(val), nil
	case []byte:
		if val == nil {
			return Null{}, nil
		}
		return NewBlob(val), nil
	default:
		return nil, unsupported(v)
	}
}

// ToNativeAll converts a parameter list. The error names the failing
// position (0-based).
func ToNativeAll(params []any) ([]Value, error) {
	if len(params) == 0 {
		return nil, nil
	}
	out := make([]Value, len(params))
	for i, p := range params {
		v, err := ToNative(p)
		if err != nil {
			if e, ok := err.(*sqlerr.Error); ok {
				e.Message = fmt.Sprintf("param %d: %s", i, e.Message)
			}
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func unsupported(v any) error {
	kind := reflect.TypeOf(v).Kind()
	switch kind {
	case reflect.Map, reflect.Struct, reflect.Pointer, reflect.Interface:
		return sqlerr.NewUnsupportedValueError(fmt.Sprintf(
			"objects are not supported as query parameters, got %T; pass a scalar, a string or a byte slice", v))
	default:
		return sqlerr.NewUnsupportedValueError(fmt.Sprintf(
			"unsupported parameter type %T; pass a scalar, a string or a byte slice", v))
	}
}

func fromUint(u uint64) Value {
	if u > math.MaxInt64 {
		return Float(float64(u))
	}
	return Int(int64(u))
}

// fromFloat tries an int32 round trip first, then int64, then keeps the
// double.
func fromFloat(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Float(f)
	}
	if f >= math.MinInt32 && f <= math.MaxInt32 {
		if i := int32(f); float64(i) == f {
			return Int(i)
		}
	}
	// 2^63 is representable as a float64 but not as an int64.
	if f >= math.MinInt64 && f < math.MaxInt64 {
		if i := int64(f); float64(i) == f {
			return Int(i)
		}
	}
	return Float(f)
}

// FromTyped converts a Value into its host representation. It never fails.
// Blobs are returned as a fresh copy.
func FromTyped(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case Bool:
		return bool(val)
	case Int:
		return int64(val)
	case Float:
		return float64(val)
	case Text:
		return string(val)
	case Blob:
		out := make([]byte, len(val))
		copy(out, val)
		return out
	default:
		return nil
	}
}

// FromDriver converts a column value read through the engine driver.
//
// The engine never stores booleans: a bool from the driver is an integer
// it rewrote for a BOOLEAN column and comes back as Int 1 or 0. A
// time.Time is a DATE, DATETIME or TIMESTAMP value the driver parsed; it
// comes back as Text in the engine's default timestamp layout. The store
// avoids both rewrites for queries, so these cases only remain for rows
// returned by data-changing statements.
func FromDriver(v driver.Value) Value {
	switch val := v.(type) {
	case nil:
		return Null{}
	case int64:
		return Int(val)
	case float64:
		return Float(val)
	case bool:
		if val {
			return Int(1)
		}
		return Int(0)
	case string:
		return Text(val)
	case []byte:
		return NewBlob(val)
	case time.Time:
		return Text(val.Format(sqlite3.SQLiteTimestampFormats[0]))
	default:
		return Text(fmt.Sprintf("%v", val))
	}
}

// ToDriver converts a Value into the representation the engine driver
// binds. Variants the driver cannot bind become NULL.
func ToDriver(v Value) driver.Value {
	switch val := v.(type) {
	case Bool:
		return bool(val)
	case Int:
		return int64(val)
	case Float:
		return float64(val)
	case Text:
		return string(val)
	case Blob:
		return []byte(val)
	default:
		return nil
	}
}
