package logic

// Value is a three-valued truth value.
type Value int8

const (
	// Unknown means the value could not be determined.
	Unknown Value = iota
	False
	True
)

// FromBool converts a definite boolean.
func FromBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// Not inverts True and False; Unknown stays Unknown.
func (v Value) Not() Value {
	switch v {
	case True:
		return False
	case False:
		return True
	default:
		return Unknown
	}
}

// Known reports whether v is True or False.
func (v Value) Known() bool {
	return v == True || v == False
}

func (v Value) String() string {
	switch v {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}
