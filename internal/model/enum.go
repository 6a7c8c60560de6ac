package model

import (
	"database/sql/driver"
	"fmt"
)

// MyEnum is the sample enumeration used as property, parameter and key type.
type MyEnum int

const (
	ValueOne MyEnum = iota
	ValueTwo
	ValueThree
)

var myEnumNames = []string{"ValueOne", "ValueTwo", "ValueThree"}

// EnumNames lists the member names in value order.
func (MyEnum) EnumNames() []string { return myEnumNames }

func (e MyEnum) String() string {
	if e < 0 || int(e) >= len(myEnumNames) {
		return fmt.Sprintf("MyEnum(%d)", int(e))
	}
	return myEnumNames[e]
}

// ParseMyEnum resolves a member name.
func ParseMyEnum(s string) (MyEnum, error) {
	for i, n := range myEnumNames {
		if n == s {
			return MyEnum(i), nil
		}
	}
	return 0, fmt.Errorf("invalid MyEnum %q", s)
}

func (e MyEnum) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *MyEnum) UnmarshalText(b []byte) error {
	v, err := ParseMyEnum(string(b))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// Value stores the member name.
func (e MyEnum) Value() (driver.Value, error) {
	if e < 0 || int(e) >= len(myEnumNames) {
		return nil, fmt.Errorf("invalid MyEnum %d", int(e))
	}
	return e.String(), nil
}

// Scan reads a member name written by Value.
func (e *MyEnum) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return e.UnmarshalText([]byte(v))
	case []byte:
		return e.UnmarshalText(v)
	case nil:
		*e = ValueOne
		return nil
	}
	return fmt.Errorf("cannot scan %T into MyEnum", src)
}
