package dump

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"sqlanon/internal/anonymize"
	"sqlanon/internal/core"
)

// outBufferSize is the stdout buffer; flushed on exit and before any dump
// parse error is reported.
const outBufferSize = 1 << 20

// constraintStarters are the words that open a table-level constraint
// definition inside CREATE TABLE instead of a column definition.
var constraintStarters = map[string]bool{
	"PRIMARY": true, "UNIQUE": true, "KEY": true, "CONSTRAINT": true,
	"INDEX": true, "FULLTEXT": true, "SPATIAL": true, "FOREIGN": true,
	"CHECK": true,
}

// Rewriter consumes dump tokens, recognizes CREATE TABLE and INSERT INTO
// statements, and rewrites configured field values. Everything it does not
// recognize is emitted verbatim, in input order.
type Rewriter struct {
	cfg  *core.Config
	eng  *anonymize.Engine
	lx   *Lexer
	out  *bufio.Writer
	errw io.Writer

	pushback   *Token
	insertSeen map[string]bool
}

// NewRewriter builds the pipeline over the given streams. Warnings go to errw.
func NewRewriter(cfg *core.Config, eng *anonymize.Engine, in io.Reader, out io.Writer, errw io.Writer) *Rewriter {
	return &Rewriter{
		cfg:        cfg,
		eng:        eng,
		lx:         NewLexer(in),
		out:        bufio.NewWriterSize(out, outBufferSize),
		errw:       errw,
		insertSeen: make(map[string]bool),
	}
}

// Run processes the whole dump. On a dump parse error the output buffer is
// flushed before the error is returned; partial output is not rolled back.
func (rw *Rewriter) Run() error {
	defer rw.out.Flush()

	for {
		tok, err := rw.next()
		if err != nil {
			return rw.fail(tok, err)
		}

		switch {
		case tok.Kind == KindEOF:
			return rw.out.Flush()

		case tok.IsKeyword("CREATE"):
			if err := rw.createTable(tok); err != nil {
				return err
			}

		case tok.IsKeyword("INSERT"):
			if err := rw.insertInto(tok); err != nil {
				return err
			}

		default:
			rw.emit(tok)
		}
	}
}

// ---- CREATE TABLE ----

type schemaColumn struct {
	name   string
	quoted bool
}

// createTable emits the DDL verbatim while collecting each column's name
// and quoting class, then backfills the positions of every matching rule.
func (rw *Rewriter) createTable(create Token) error {
	rw.emit(create)

	tok, err := rw.nextSigEmit()
	if err != nil {
		return rw.fail(tok, err)
	}
	if !tok.IsKeyword("TABLE") {
		// CREATE DATABASE, CREATE VIEW and friends pass through.
		rw.emit(tok)
		return nil
	}
	rw.emit(tok)

	name, err := rw.nextSigEmit()
	if err != nil {
		return rw.fail(name, err)
	}
	rw.emit(name)
	if name.Kind != KindIdent {
		return nil
	}

	// Scan to the column list.
	for {
		tok, err = rw.nextSigEmit()
		if err != nil {
			return rw.fail(tok, err)
		}
		rw.emit(tok)
		if tok.IsPunct('(') {
			break
		}
		if tok.IsPunct(';') || tok.Kind == KindEOF {
			return nil
		}
	}

	cols, err := rw.scanColumnDefs()
	if err != nil {
		return err
	}

	// Emit the table options and the terminating semicolon.
	for {
		tok, err = rw.nextSigEmit()
		if err != nil {
			return rw.fail(tok, err)
		}
		if tok.Kind == KindEOF {
			break
		}
		rw.emit(tok)
		if tok.IsPunct(';') {
			break
		}
	}

	rw.backfill(name.Text, cols)
	return nil
}

// scanColumnDefs walks the parenthesized definition list, emitting tokens
// verbatim. At nesting depth one, the first word after '(' or ',' starts
// either a column definition or a table constraint; for columns, the first
// recognizable type word decides the quoting class.
func (rw *Rewriter) scanColumnDefs() ([]schemaColumn, error) {
	var cols []schemaColumn
	depth := 1
	expectStart := true
	inColumn := false
	typeKnown := false

	for {
		tok, err := rw.nextSigEmit()
		if err != nil {
			return nil, rw.fail(tok, err)
		}
		if tok.Kind == KindEOF {
			return nil, rw.fail(tok, fmt.Errorf("line %d: unexpected end of input in CREATE TABLE", tok.Line))
		}
		rw.emit(tok)

		switch {
		case tok.IsPunct('('):
			depth++

		case tok.IsPunct(')'):
			depth--
			if depth == 0 {
				return cols, nil
			}

		case tok.IsPunct(','):
			if depth == 1 {
				expectStart = true
				inColumn = false
			}

		case tok.Kind == KindIdent || tok.Kind == KindKeyword:
			if depth != 1 {
				continue
			}
			if expectStart {
				expectStart = false
				// A backtick-quoted word is always a column name, even when
				// it spells a constraint starter like `key`.
				if tok.Raw[0] != '`' && constraintStarters[strings.ToUpper(tok.Text)] {
					continue
				}
				cols = append(cols, schemaColumn{name: tok.Text})
				inColumn = true
				typeKnown = false
				continue
			}
			if inColumn && !typeKnown {
				if quoted, isType := classifyType(tok.Text); isType {
					cols[len(cols)-1].quoted = quoted
					typeKnown = true
				}
			}
		}
	}
}

// backfill records column positions and quoting classes on every rule that
// matches the table.
func (rw *Rewriter) backfill(table string, cols []schemaColumn) {
	for _, rule := range rw.cfg.Tables {
		if rule.Action != core.ActionAnonymize || !rule.Matches(table) {
			continue
		}
		for _, fname := range rule.FieldOrder {
			fr := rule.Fields[fname]
			for i, col := range cols {
				if strings.EqualFold(col.name, fr.Name) {
					fr.Position = i
					fr.QuotedInSchema = col.quoted
					break
				}
			}
		}
	}
}

// ---- INSERT INTO ----

// insertInto buffers the statement head until the table name is known, then
// either suppresses the statement (truncate), passes it through (no rule),
// or rewrites its value tuples.
func (rw *Rewriter) insertInto(insert Token) error {
	head := []Token{insert}

	into, trivia, err := rw.nextSig()
	if err != nil {
		return rw.fail(into, err)
	}
	head = append(head, trivia...)
	head = append(head, into)
	if !into.IsKeyword("INTO") {
		rw.emitAll(head)
		return nil
	}

	name, trivia, err := rw.nextSig()
	if err != nil {
		return rw.fail(name, err)
	}
	head = append(head, trivia...)
	head = append(head, name)
	if name.Kind != KindIdent {
		rw.emitAll(head)
		return nil
	}

	rule := rw.cfg.RuleFor(name.Text)

	if rule == nil {
		rw.emitAll(head)
		return rw.passStatement()
	}

	if rule.Action == core.ActionTruncate {
		return rw.skipStatement()
	}

	rw.emitAll(head)
	return rw.rewriteInsert(name.Text, rule)
}

// passStatement emits tokens verbatim up to and including the terminating
// semicolon.
func (rw *Rewriter) passStatement() error {
	for {
		tok, err := rw.next()
		if err != nil {
			return rw.fail(tok, err)
		}
		if tok.Kind == KindEOF {
			return nil
		}
		rw.emit(tok)
		if tok.IsPunct(';') {
			return nil
		}
	}
}

// skipStatement consumes tokens up to and including the terminating
// semicolon without emitting anything.
func (rw *Rewriter) skipStatement() error {
	for {
		tok, err := rw.next()
		if err != nil {
			return rw.fail(tok, err)
		}
		if tok.Kind == KindEOF {
			return nil
		}
		if tok.IsPunct(';') {
			return nil
		}
	}
}

// rewriteInsert handles one INSERT statement for a rule-matched table.
// The row index starts at zero for every statement and advances across the
// statement's tuples.
func (rw *Rewriter) rewriteInsert(table string, rule *core.TableRule) error {
	firstInsert := !rw.insertSeen[table]

	// Optional column list and the VALUES keyword pass through.
	for {
		tok, err := rw.nextSigEmit()
		if err != nil {
			return rw.fail(tok, err)
		}
		if tok.Kind == KindEOF {
			return rw.fail(tok, fmt.Errorf("line %d: unexpected end of input in INSERT", tok.Line))
		}
		rw.emit(tok)
		if tok.IsKeyword("VALUES") {
			break
		}
		if tok.IsPunct(';') {
			return nil
		}
	}

	rowIndex := 0
	for {
		tok, err := rw.nextSigEmit()
		if err != nil {
			return rw.fail(tok, err)
		}

		switch {
		case tok.IsPunct('('):
			rw.emit(tok)
			if err := rw.rewriteTuple(table, rule, rowIndex, firstInsert); err != nil {
				return err
			}
			rowIndex++

		case tok.IsPunct(','):
			rw.emit(tok)

		case tok.IsPunct(';'):
			rw.emit(tok)
			rw.insertSeen[table] = true
			return nil

		default:
			return rw.fail(tok, nil)
		}
	}
}

// rewriteTuple processes one parenthesized value tuple. The table key
// resets at tuple start; the ordering warning can only fire during the
// first tuple of a table's first INSERT.
func (rw *Rewriter) rewriteTuple(table string, rule *core.TableRule, rowIndex int, firstInsert bool) error {
	ctx := &anonymize.Context{
		RowIndex:    rowIndex,
		FirstInsert: firstInsert && rowIndex == 0,
		TableName:   table,
	}

	fieldIndex := 0
	for {
		tok, trivia, err := rw.nextSig()
		if err != nil {
			return rw.fail(tok, err)
		}
		rw.emitAll(trivia)

		if tok.Kind == KindEOF {
			return rw.fail(tok, fmt.Errorf("line %d: unexpected end of input in value tuple", tok.Line))
		}
		if tok.IsPunct(')') {
			rw.emit(tok)
			return nil
		}

		delim, err := rw.rewriteValue(tok, rule.FieldAt(fieldIndex), ctx)
		if err != nil {
			return err
		}
		fieldIndex++

		if delim.IsPunct(')') {
			rw.emit(delim)
			return nil
		}
		// delim is ','
		rw.emit(delim)
	}
}

// rewriteValue emits one tuple value, transformed when a field rule applies
// and the value is a simple literal. It returns the delimiter token (',' or
// ')') that followed the value.
func (rw *Rewriter) rewriteValue(first Token, fr *core.FieldRule, ctx *anonymize.Context) (Token, error) {
	delim, trivia, err := rw.nextSig()
	if err != nil {
		return delim, rw.fail(delim, err)
	}

	simple := isSimpleValue(first) && (delim.IsPunct(',') || delim.IsPunct(')'))
	if simple {
		if fr == nil {
			rw.emit(first)
		} else {
			rw.dispatch(first, fr, ctx)
		}
		rw.emitAll(trivia)
		return delim, nil
	}

	// Multi-token value (function call, arithmetic, bareword list): emit
	// verbatim through the closing delimiter of the value.
	rw.emit(first)
	rw.emitAll(trivia)

	depth := 0
	cur := delim
	for {
		if cur.Kind == KindEOF {
			return cur, rw.fail(cur, fmt.Errorf("line %d: unexpected end of input in value tuple", cur.Line))
		}
		if cur.IsPunct('(') {
			depth++
		}
		if cur.IsPunct(')') {
			if depth == 0 {
				return cur, nil
			}
			depth--
		}
		if cur.IsPunct(',') && depth == 0 {
			return cur, nil
		}
		rw.emit(cur)

		cur, trivia, err = rw.nextSig()
		if err != nil {
			return cur, rw.fail(cur, err)
		}
		rw.emitAll(trivia)
	}
}

// isSimpleValue reports whether the token can stand alone as a field value.
func isSimpleValue(tok Token) bool {
	switch tok.Kind {
	case KindString, KindNumber, KindIdent:
		return true
	case KindKeyword:
		return tok.Text == "NULL"
	}
	return false
}

// nullReplacer reports whether the anonymization type replaces even a NULL input.
func nullReplacer(t core.AnonType) bool {
	return t == core.FixedNull || t.NeedsFixedValue()
}

// dispatch anonymizes one simple value and writes the wrapped result.
func (rw *Rewriter) dispatch(tok Token, fr *core.FieldRule, ctx *anonymize.Context) {
	// NULL passes through for hash and substring families; only the fixed
	// and key/index families force a replacement.
	if tok.IsKeyword("NULL") && !nullReplacer(fr.Spec.Type) {
		rw.emit(tok)
		return
	}

	quoted := tok.Kind == KindString

	if fr.Spec.Type == core.JSON {
		res, err := rw.eng.AnonymizeJSON(quoted, fr, tok.Raw, ctx)
		if err != nil {
			fmt.Fprintf(rw.errw, "WARNING! Table %s field %s: invalid JSON at line %d: %v\n",
				ctx.TableName, fr.Name, tok.Line, err)
			rw.emit(tok)
			return
		}
		rw.writeResult(res, quoted)
		return
	}

	res := rw.eng.Anonymize(quoted, &fr.Spec, tok.Raw, ctx)
	rw.writeResult(res, quoted)
}

// writeResult wraps the anonymized bytes per the result's quoting mode.
// Forced quoting SQL-escapes the data; as-input quoting trusts the
// transform to have produced literal-safe bytes.
func (rw *Rewriter) writeResult(res anonymize.Result, inputQuoted bool) {
	switch res.Quoting {
	case core.QuoteForceFalse:
		rw.out.Write(res.Data)

	case core.QuoteForceTrue:
		rw.out.WriteByte('\'')
		rw.out.WriteString(anonymize.EscapeSQLString(string(res.Data)))
		rw.out.WriteByte('\'')

	case core.QuoteAsInput:
		if inputQuoted {
			rw.out.WriteByte('\'')
			rw.out.Write(res.Data)
			rw.out.WriteByte('\'')
		} else {
			rw.out.Write(res.Data)
		}
	}
}

// ---- token plumbing ----

func (rw *Rewriter) next() (Token, error) {
	if rw.pushback != nil {
		tok := *rw.pushback
		rw.pushback = nil
		return tok, nil
	}
	return rw.lx.Next()
}

// nextSig returns the next non-trivia token along with the trivia that
// preceded it, leaving emission to the caller.
func (rw *Rewriter) nextSig() (Token, []Token, error) {
	var trivia []Token
	for {
		tok, err := rw.next()
		if err != nil {
			return tok, trivia, err
		}
		if tok.Kind == KindTrivia {
			trivia = append(trivia, tok)
			continue
		}
		return tok, trivia, nil
	}
}

// nextSigEmit returns the next non-trivia token, emitting any trivia on the
// way.
func (rw *Rewriter) nextSigEmit() (Token, error) {
	tok, trivia, err := rw.nextSig()
	rw.emitAll(trivia)
	return tok, err
}

func (rw *Rewriter) emit(tok Token) {
	rw.out.Write(tok.Raw)
}

func (rw *Rewriter) emitAll(toks []Token) {
	for _, tok := range toks {
		rw.emit(tok)
	}
}

// fail flushes whatever was already produced and reports a dump parse
// error naming the line and the offending token.
func (rw *Rewriter) fail(tok Token, err error) error {
	rw.out.Flush()
	if err != nil {
		return fmt.Errorf("dump parsing error: %v", err)
	}
	return fmt.Errorf("dump parsing error at line %d: unexpected [%s]", tok.Line, tok.Raw)
}
