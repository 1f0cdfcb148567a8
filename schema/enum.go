package schema

import "fmt"

// UnknownEnumValueError is returned by strict name conversion when an enum
// number has no declared value. Decoding itself never produces this error:
// unknown numbers ride through decode as raw int32 values.
type UnknownEnumValueError struct {
	Enum   string // enum full name
	Number int32
}

func (e *UnknownEnumValueError) Error() string {
	return fmt.Sprintf("enum %s has no value with number %d", e.Enum, e.Number)
}

// NameByNumber converts a wire number to its declared name. When allow_alias
// is set the first declared name wins. Unknown numbers return
// *UnknownEnumValueError.
func (e *Enum) NameByNumber(number int32) (string, error) {
	for _, v := range e.Values {
		if v.Number == number {
			return v.Name, nil
		}
	}
	return "", &UnknownEnumValueError{Enum: e.FullName, Number: number}
}

// NumberByName converts a declared name to its wire number.
func (e *Enum) NumberByName(name string) (int32, bool) {
	for _, v := range e.Values {
		if v.Name == name {
			return v.Number, true
		}
	}
	return 0, false
}
