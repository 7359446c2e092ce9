// Package spec provides the abstract and concrete spec types for smelt.
//
// All other internal packages import spec; spec imports nothing internal.
//
// Key constraints:
//   - A ConcreteSpec is immutable once finalized and is shared by pointer
//   - The dag hash covers only MarshalNode output (RFC 8785 canonical JSON)
//   - Variant values are a closed set: BoolValue, EnumValue, SetValue, StringValue
//   - Spec strings round-trip through Parse and String
package spec
