package value

import (
	"bytes"
	"fmt"
	"strconv"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindText
	KindBlob
)

var kindNames = [...]string{"null", "bool", "int", "float", "text", "blob"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is a sealed interface representing the values the engine stores.
// Only Null, Bool, Int, Float, Text and Blob implement it.
type Value interface {
	Kind() Kind
	typedValue() // Sealed - only these types implement it
}

// Null represents SQL NULL.
type Null struct{}

func (Null) Kind() Kind  { return KindNull }
func (Null) typedValue() {}

// Bool is stored by the engine as an integer 0 or 1.
type Bool bool

func (Bool) Kind() Kind  { return KindBool }
func (Bool) typedValue() {}

// Int is a 64-bit signed integer.
type Int int64

func (Int) Kind() Kind  { return KindInt }
func (Int) typedValue() {}

// Float is an IEEE 754 double.
type Float float64

func (Float) Kind() Kind  { return KindFloat }
func (Float) typedValue() {}

// Text is a UTF-8 string.
type Text string

func (Text) Kind() Kind  { return KindText }
func (Text) typedValue() {}

// Blob is an owned byte buffer. Use NewBlob to copy foreign memory in.
type Blob []byte

func (Blob) Kind() Kind  { return KindBlob }
func (Blob) typedValue() {}

// NewBlob copies b into a fresh Blob. A nil slice yields an empty blob,
// not NULL.
func NewBlob(b []byte) Blob {
	out := make([]byte, len(b))
	copy(out, b)
	return Blob(out)
}

// Equal reports whether a and b hold the same variant and content.
// Blobs compare by bytes, never by identity.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return isNull(a) && isNull(b)
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case Blob:
		return bytes.Equal(av, b.(Blob))
	default:
		return a == b
	}
}

func isNull(v Value) bool {
	return v == nil || v.Kind() == KindNull
}

// String renders v for logs and text output.
func String(v Value) string {
	switch val := v.(type) {
	case nil, Null:
		return "NULL"
	case Bool:
		if val {
			return "true"
		}
		return "false"
	case Int:
		return strconv.FormatInt(int64(val), 10)
	case Float:
		return strconv.FormatFloat(float64(val), 'g', -1, 64)
	case Text:
		return string(val)
	case Blob:
		return fmt.Sprintf("<blob %d bytes>", len(val))
	default:
		return fmt.Sprintf("%v", v)
	}
}
