// Package core contains the single source of truth for the anonymization
// configuration. It provides the structured representation of table rules,
// field rules, and anonymization specs that the rest of the sqlanon
// toolchain operates on.
package core

import (
	"regexp"
	"strings"
)

// AnonType identifies how a field value is transformed.
type AnonType int

const (
	// FixedNull emits the bare keyword NULL.
	FixedNull AnonType = iota
	// Fixed emits a configured value, quoted the way the input was.
	Fixed
	// FixedQuoted emits a configured value, always single-quoted.
	FixedQuoted
	// FixedUnquoted emits a configured value, never quoted.
	FixedUnquoted
	// TextHash emits a keyed hash mapped to 'a'..'z'.
	TextHash
	// EmailHash emits a keyed hash local part plus '@' and a fixed domain.
	EmailHash
	// IntHash emits a keyed hash mapped to '1'..'9'.
	IntHash
	// Key passes the value through and records it as the row key.
	Key
	// AppendKey emits a configured prefix followed by the row key.
	AppendKey
	// PrependKey emits the row key followed by a configured suffix.
	PrependKey
	// AppendIndex emits a configured prefix followed by the row index.
	AppendIndex
	// PrependIndex emits the row index followed by a configured suffix.
	PrependIndex
	// Substring keeps at most Length leading characters of the value.
	Substring
	// JSON rewrites selected paths inside a JSON document value.
	JSON
	// Script invokes a user-defined expression by name.
	Script
)

var anonTypeNames = map[AnonType]string{
	FixedNull:     "fixednull",
	Fixed:         "fixed",
	FixedQuoted:   "fixedquoted",
	FixedUnquoted: "fixedunquoted",
	TextHash:      "texthash",
	EmailHash:     "emailhash",
	IntHash:       "inthash",
	Key:           "key",
	AppendKey:     "appendkey",
	PrependKey:    "prependkey",
	AppendIndex:   "appendindex",
	PrependIndex:  "prependindex",
	Substring:     "substring",
	JSON:          "json",
	Script:        "script",
}

// String returns the configuration-file spelling of the type.
func (t AnonType) String() string {
	if s, ok := anonTypeNames[t]; ok {
		return s
	}
	return "unknown"
}

// ParseAnonType converts a configuration-file spelling into an AnonType.
func ParseAnonType(s string) (AnonType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range anonTypeNames {
		if name == s {
			return t, true
		}
	}
	return 0, false
}

// NeedsSecret reports whether the type derives its output from the HMAC secret.
func (t AnonType) NeedsSecret() bool {
	switch t {
	case TextHash, EmailHash, IntHash:
		return true
	}
	return false
}

// NeedsFixedValue reports whether the type requires a configured fixed value.
func (t AnonType) NeedsFixedValue() bool {
	switch t {
	case Fixed, FixedQuoted, FixedUnquoted, AppendKey, PrependKey, AppendIndex, PrependIndex:
		return true
	}
	return false
}

// MaxHashLength bounds the requested output length of hash types; the
// underlying digest is 32 bytes, so longer outputs cannot be produced.
const MaxHashLength = 32

// FieldSpec holds the anonymization parameters shared by flat fields and
// JSON sub-fields.
type FieldSpec struct {
	Type       AnonType
	Length     uint16
	Domain     string // EmailHash only
	FixedValue string
	Separator  byte   // reserved for separated multi-value fields
	ScriptFunc string // Script only: expression name

	// Hits counts successful applications of this spec. Updated only from
	// the single rewriter goroutine.
	Hits uint64
}

// JSONPathSpec binds an anonymization spec to a dotted path inside a JSON
// document. Numeric segments index arrays, any other segment is an object key.
type JSONPathSpec struct {
	Path string
	Spec *FieldSpec
}

// FieldRule is the per-column configuration of a table rule. Position and
// QuotedInSchema are unknown until the CREATE TABLE for the table has been
// seen; Position stays -1 for columns absent from the schema.
type FieldRule struct {
	Name           string
	Position       int
	QuotedInSchema bool
	Spec           FieldSpec
	JSONPaths      []*JSONPathSpec
}

// TableAction selects what happens to a table's INSERT statements.
type TableAction int

const (
	// ActionAnonymize rewrites selected fields of each row.
	ActionAnonymize TableAction = iota
	// ActionTruncate drops every INSERT for the table.
	ActionTruncate
)

// TableRule configures one table, addressed either by literal name or by an
// anchored regular expression over the table identifier.
type TableRule struct {
	Key    string
	Regex  *regexp.Regexp // nil for literal keys
	Action TableAction

	Fields map[string]*FieldRule
	// FieldOrder preserves configuration order for deterministic warnings.
	FieldOrder []string
}

// Matches reports whether the rule applies to the given table name.
func (r *TableRule) Matches(table string) bool {
	if r.Regex != nil {
		return r.Regex.MatchString(table)
	}
	return r.Key == table
}

// FieldAt returns the rule for the column at the given schema position, or
// nil when the position is not configured.
func (r *TableRule) FieldAt(pos int) *FieldRule {
	if pos < 0 {
		return nil
	}
	for _, name := range r.FieldOrder {
		if f := r.Fields[name]; f != nil && f.Position == pos {
			return f
		}
	}
	return nil
}

// Config is the root of the anonymization configuration. Tables keeps
// configuration order; a literal key always wins over a regex key that
// would also match.
type Config struct {
	Secret     []byte
	Stats      bool
	ScriptDir  string
	ScriptFile string

	Tables []*TableRule
}

// MaxSecretLength bounds the HMAC secret read from the configuration.
const MaxSecretLength = 1024

// RuleFor resolves the table rule for a table name. Literal keys are
// checked first; regex rules are then tried in configuration order.
func (c *Config) RuleFor(table string) *TableRule {
	for _, r := range c.Tables {
		if r.Regex == nil && r.Key == table {
			return r
		}
	}
	for _, r := range c.Tables {
		if r.Regex != nil && r.Regex.MatchString(table) {
			return r
		}
	}
	return nil
}

// QuoteMode decides whether the rewriter wraps an emitted value in single
// quotes and applies SQL escaping.
type QuoteMode int

const (
	// QuoteAsInput follows the field's detected quoting.
	QuoteAsInput QuoteMode = iota
	// QuoteForceTrue always quotes (and SQL-escapes) the output.
	QuoteForceTrue
	// QuoteForceFalse never quotes the output.
	QuoteForceFalse
)
