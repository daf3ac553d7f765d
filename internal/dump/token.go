// Package dump implements the streaming rewrite pipeline for MySQL logical
// dumps: a tokenizer over the input stream and a state machine that
// recognizes CREATE TABLE and INSERT INTO statements, anonymizes selected
// values, and emits everything else byte-for-byte.
package dump

import "strings"

// Kind classifies a lexer token.
type Kind int

const (
	// KindEOF marks end of input.
	KindEOF Kind = iota
	// KindKeyword is one of the statement keywords the rewriter acts on.
	KindKeyword
	// KindIdent is a bare or backtick-quoted identifier.
	KindIdent
	// KindString is a single-quoted SQL string literal, escapes intact.
	KindString
	// KindNumber is a numeric literal, including sign and exponent.
	KindNumber
	// KindPunct is one of ( ) , ; =.
	KindPunct
	// KindTrivia is whitespace or a comment, always passed through.
	KindTrivia
	// KindOther is any unrecognized byte, passed through verbatim.
	KindOther
)

// Token is one lexical unit of the dump. Raw always holds the exact input
// bytes, so concatenating the Raw of every token reproduces the input.
// Text carries the normalized form where one exists: the uppercase spelling
// for keywords and the unquoted name for identifiers.
type Token struct {
	Kind Kind
	Raw  []byte
	Text string
	Line int
}

// IsKeyword reports whether the token is the given statement keyword.
func (t Token) IsKeyword(kw string) bool {
	return t.Kind == KindKeyword && t.Text == kw
}

// IsPunct reports whether the token is the given punctuation byte.
func (t Token) IsPunct(b byte) bool {
	return t.Kind == KindPunct && len(t.Raw) == 1 && t.Raw[0] == b
}

// statement keywords the rewriter dispatches on
var keywords = map[string]bool{
	"CREATE": true,
	"TABLE":  true,
	"INSERT": true,
	"INTO":   true,
	"VALUES": true,
	"NULL":   true,
}

// quotedTypes lists the SQL column types whose values appear as quoted
// literals in a dump. Everything else (int, bit, float families) is
// unquoted. Parametrized spellings like varchar(32) are matched on the
// base word.
var quotedTypes = map[string]bool{
	"CHAR": true, "VARCHAR": true, "TINYTEXT": true, "TEXT": true,
	"MEDIUMTEXT": true, "LONGTEXT": true, "BINARY": true, "VARBINARY": true,
	"TINYBLOB": true, "BLOB": true, "MEDIUMBLOB": true, "LONGBLOB": true,
	"DATE": true, "DATETIME": true, "TIMESTAMP": true, "TIME": true,
	"YEAR": true, "ENUM": true, "SET": true, "JSON": true,
	"DECIMAL": true, "NUMERIC": true,
}

// unquotedTypes lists the numeric and bit column types.
var unquotedTypes = map[string]bool{
	"TINYINT": true, "SMALLINT": true, "MEDIUMINT": true, "INT": true,
	"INTEGER": true, "BIGINT": true, "FLOAT": true, "DOUBLE": true,
	"REAL": true, "BIT": true, "BOOL": true, "BOOLEAN": true, "SERIAL": true,
}

// classifyType reports whether word is a column type and, if so, whether
// its values are quoted in dumps.
func classifyType(word string) (quoted, isType bool) {
	w := strings.ToUpper(word)
	if quotedTypes[w] {
		return true, true
	}
	if unquotedTypes[w] {
		return false, true
	}
	return false, false
}
