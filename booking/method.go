// Package booking implements the seven lot-selection disciplines a
// reducing posting can use against an account's held inventory, and the
// Inventory type that tracks lots per currency.
package booking

import "fmt"

// Method is one of the seven booking disciplines an Open directive can
// declare for an account (§4.4).
type Method string

const (
	STRICT          Method = "STRICT"
	StrictWithSize  Method = "STRICT_WITH_SIZE"
	FIFO            Method = "FIFO"
	LIFO            Method = "LIFO"
	HIFO            Method = "HIFO"
	AVERAGE         Method = "AVERAGE"
	NONE            Method = "NONE"
	defaultMethod          = FIFO
)

// ParseMethod validates a booking method name from an Open directive or
// file-level default option.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case STRICT, StrictWithSize, FIFO, LIFO, HIFO, AVERAGE, NONE:
		return Method(s), nil
	default:
		return "", fmt.Errorf("unknown booking method %q", s)
	}
}

// DefaultMethod is the method an account uses when its Open directive
// does not declare one and no file-level default option is set.
func DefaultMethod() Method { return defaultMethod }
