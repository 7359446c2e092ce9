package spec

import (
	"fmt"
	"slices"
	"strings"
)

// VariantKind is the closed set of variant shapes a package can declare.
type VariantKind int

const (
	// KindBool is an on/off switch written +name / ~name.
	KindBool VariantKind = iota + 1
	// KindSingle selects exactly one value from an allowed list.
	KindSingle
	// KindMulti selects a set of values from an allowed list.
	KindMulti
	// KindString is a free-form string.
	KindString
)

var kindNames = map[VariantKind]string{
	KindBool:   "bool",
	KindSingle: "single",
	KindMulti:  "multi",
	KindString: "string",
}

func (k VariantKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("VariantKind(%d)", int(k))
}

// ParseVariantKind maps "bool", "single", "multi" and "string" to a kind.
func ParseVariantKind(s string) (VariantKind, error) {
	for k, n := range kindNames {
		if n == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown variant kind %q", s)
}

// VariantValue is a sealed interface over the four variant value shapes.
// Only BoolValue, EnumValue, SetValue and StringValue implement it.
type VariantValue interface {
	variantValue()
	Kind() VariantKind
	// String renders the value as it appears after "name=".
	String() string
}

// BoolValue is the value of a KindBool variant.
type BoolValue bool

// EnumValue is the value of a KindSingle variant.
type EnumValue string

// SetValue is the value of a KindMulti variant. Always sorted and unique;
// build it with NewSetValue.
type SetValue []string

// StringValue is the value of a KindString variant.
type StringValue string

func (BoolValue) variantValue()   {}
func (EnumValue) variantValue()   {}
func (SetValue) variantValue()    {}
func (StringValue) variantValue() {}

func (BoolValue) Kind() VariantKind   { return KindBool }
func (EnumValue) Kind() VariantKind   { return KindSingle }
func (SetValue) Kind() VariantKind    { return KindMulti }
func (StringValue) Kind() VariantKind { return KindString }

func (v BoolValue) String() string {
	if v {
		return "true"
	}
	return "false"
}
func (v EnumValue) String() string   { return string(v) }
func (v SetValue) String() string    { return strings.Join(v, ",") }
func (v StringValue) String() string { return string(v) }

// NewSetValue returns a sorted, de-duplicated SetValue.
func NewSetValue(vals ...string) SetValue {
	out := slices.Clone(vals)
	slices.Sort(out)
	return SetValue(slices.Compact(out))
}

// Union merges two sets.
func (v SetValue) Union(o SetValue) SetValue {
	return NewSetValue(append(slices.Clone(v), o...)...)
}

// Contains reports whether every element of o is in v.
func (v SetValue) Contains(o SetValue) bool {
	for _, x := range o {
		if !slices.Contains(v, x) {
			return false
		}
	}
	return true
}

// EqualValues reports whether two variant values are identical in kind and value.
func EqualValues(a, b VariantValue) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	return a.String() == b.String()
}

// ValueSatisfies reports whether a concrete value meets a requested one.
// Requests parsed from spec strings are not yet coerced to a kind, so the
// comparison is by rendered value; a set request is met by any superset.
func ValueSatisfies(concrete, want VariantValue) bool {
	if set, ok := concrete.(SetValue); ok {
		switch w := want.(type) {
		case SetValue:
			return set.Contains(w)
		default:
			return set.Contains(SetValue{w.String()})
		}
	}
	return concrete.String() == want.String()
}

// FormatVariant renders a variant binding in spec syntax.
func FormatVariant(name string, v VariantValue) string {
	if b, ok := v.(BoolValue); ok {
		if b {
			return "+" + name
		}
		return "~" + name
	}
	return name + "=" + v.String()
}

// VariantDef is one entry of a package's variant schema.
type VariantDef struct {
	Name        string
	Kind        VariantKind
	Default     VariantValue
	Allowed     []string // empty means any value (KindString, or unrestricted lists)
	Description string
}

// VariantError reports a value that the schema does not admit.
type VariantError struct {
	Variant string
	Value   string
	Reason  string
}

func (e *VariantError) Error() string {
	return fmt.Sprintf("variant %q: invalid value %q: %s", e.Variant, e.Value, e.Reason)
}

// Coerce converts a parsed value to this variant's kind and validates it
// against the allowed list.
func (d VariantDef) Coerce(v VariantValue) (VariantValue, error) {
	bad := func(reason string) error {
		return &VariantError{Variant: d.Name, Value: v.String(), Reason: reason}
	}
	switch d.Kind {
	case KindBool:
		switch x := v.(type) {
		case BoolValue:
			return x, nil
		case EnumValue, StringValue:
			switch x.String() {
			case "true", "True":
				return BoolValue(true), nil
			case "false", "False":
				return BoolValue(false), nil
			}
		}
		return nil, bad("expected a boolean")

	case KindSingle:
		var s string
		switch x := v.(type) {
		case EnumValue:
			s = string(x)
		case StringValue:
			s = string(x)
		case SetValue:
			if len(x) != 1 {
				return nil, bad("exactly one value allowed")
			}
			s = x[0]
		default:
			return nil, bad("expected one of " + strings.Join(d.Allowed, ", "))
		}
		if !d.allows(s) {
			return nil, bad("allowed values are " + strings.Join(d.Allowed, ", "))
		}
		return EnumValue(s), nil

	case KindMulti:
		var set SetValue
		switch x := v.(type) {
		case SetValue:
			set = x
		case EnumValue:
			set = NewSetValue(string(x))
		case StringValue:
			set = NewSetValue(strings.Split(string(x), ",")...)
		default:
			return nil, bad("expected a list of values")
		}
		for _, s := range set {
			if !d.allows(s) {
				return nil, bad("allowed values are " + strings.Join(d.Allowed, ", "))
			}
		}
		return set, nil

	case KindString:
		switch x := v.(type) {
		case StringValue:
			return x, nil
		case EnumValue:
			return StringValue(x), nil
		case SetValue:
			return StringValue(x.String()), nil
		}
		return nil, bad("expected a string")
	}
	return nil, bad("unknown variant kind " + d.Kind.String())
}

func (d VariantDef) allows(s string) bool {
	return len(d.Allowed) == 0 || slices.Contains(d.Allowed, s)
}

// Merge combines two requirements on the same variant, already coerced to
// this variant's kind. Multi-valued variants accumulate; every other kind
// must agree.
func (d VariantDef) Merge(a, b VariantValue) (VariantValue, bool) {
	if d.Kind == KindMulti {
		as, aok := a.(SetValue)
		bs, bok := b.(SetValue)
		if aok && bok {
			return as.Union(bs), true
		}
	}
	if EqualValues(a, b) {
		return a, true
	}
	return nil, false
}
