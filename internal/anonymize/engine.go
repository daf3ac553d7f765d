// Package anonymize maps field values to anonymized replacements according
// to a field's configured anonymization type. All transforms are
// deterministic: the hash families derive their output from the HMAC secret
// and the input token only, never from the value's position in the dump.
package anonymize

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"sqlanon/internal/core"
)

// Result is the outcome of anonymizing a single token. Data holds the
// replacement bytes without surrounding quotes; Quoting tells the rewriter
// how to wrap them on emission.
type Result struct {
	Data    []byte
	Quoting core.QuoteMode
}

// Context carries per-row state from the rewriter into the engine.
// TableKey is the value most recently recorded by a Key field within the
// current tuple; RowIndex is the 0-based tuple position within the current
// INSERT statement.
type Context struct {
	TableKey    []byte
	RowIndex    int
	FirstInsert bool
	TableName   string
}

// Engine applies field specs to tokens. It is not safe for concurrent use;
// the dump pipeline is strictly serial.
type Engine struct {
	cfg     *core.Config
	errw    io.Writer
	scripts *scriptRunner
}

// New creates an engine over the given configuration. Warnings are written
// to stderr.
func New(cfg *core.Config) *Engine {
	return &Engine{cfg: cfg, errw: os.Stderr}
}

// NewWithWarnings creates an engine whose warnings go to w instead of stderr.
func NewWithWarnings(cfg *core.Config, w io.Writer) *Engine {
	return &Engine{cfg: cfg, errw: w}
}

// Anonymize transforms a single field token. When quoted is true the token
// still carries its surrounding single quotes; they are stripped before the
// transform and the inner SQL escapes are preserved. The spec's hit counter
// is incremented on success.
func (e *Engine) Anonymize(quoted bool, spec *core.FieldSpec, token []byte, ctx *Context) Result {
	work := token
	if quoted {
		work = stripQuotes(token)
	}

	res := e.transform(spec, work, ctx)
	spec.Hits++
	return res
}

func (e *Engine) transform(spec *core.FieldSpec, work []byte, ctx *Context) Result {
	switch spec.Type {
	case core.FixedNull:
		return Result{Data: []byte("NULL"), Quoting: core.QuoteForceFalse}

	case core.Fixed:
		return Result{Data: []byte(spec.FixedValue), Quoting: core.QuoteAsInput}

	case core.FixedQuoted:
		return Result{Data: []byte(spec.FixedValue), Quoting: core.QuoteForceTrue}

	case core.FixedUnquoted:
		return Result{Data: []byte(spec.FixedValue), Quoting: core.QuoteForceFalse}

	case core.TextHash:
		data := readableHash(e.cfg.Secret, work, 'a', 'z', int(spec.Length))
		return Result{Data: data, Quoting: core.QuoteAsInput}

	case core.EmailHash:
		local := readableHash(e.cfg.Secret, work, 'a', 'z', int(spec.Length))
		data := make([]byte, 0, len(local)+1+len(spec.Domain))
		data = append(data, local...)
		data = append(data, '@')
		data = append(data, spec.Domain...)
		return Result{Data: data, Quoting: core.QuoteAsInput}

	case core.IntHash:
		data := readableHash(e.cfg.Secret, work, '1', '9', int(spec.Length))
		return Result{Data: data, Quoting: core.QuoteAsInput}

	case core.Key:
		if ctx != nil {
			ctx.TableKey = append(ctx.TableKey[:0], work...)
		}
		return Result{Data: append([]byte(nil), work...), Quoting: core.QuoteAsInput}

	case core.AppendKey:
		e.warnKeyOrder(ctx, "appendkey")
		data := concat([]byte(spec.FixedValue), ctxKey(ctx))
		return Result{Data: data, Quoting: core.QuoteForceTrue}

	case core.PrependKey:
		e.warnKeyOrder(ctx, "prependkey")
		data := concat(ctxKey(ctx), []byte(spec.FixedValue))
		return Result{Data: data, Quoting: core.QuoteForceTrue}

	case core.AppendIndex:
		data := concat([]byte(spec.FixedValue), []byte(strconv.Itoa(ctxIndex(ctx))))
		return Result{Data: data, Quoting: core.QuoteForceTrue}

	case core.PrependIndex:
		data := concat([]byte(strconv.Itoa(ctxIndex(ctx))), []byte(spec.FixedValue))
		return Result{Data: data, Quoting: core.QuoteForceTrue}

	case core.Substring:
		return Result{Data: substring(work, int(spec.Length)), Quoting: core.QuoteAsInput}

	case core.Script:
		data, err := e.runScript(spec.ScriptFunc, work)
		if err != nil {
			fmt.Fprintf(e.errw, "WARNING! script %s: %v\n", spec.ScriptFunc, err)
			return Result{Data: nil, Quoting: core.QuoteAsInput}
		}
		return Result{Data: data, Quoting: core.QuoteAsInput}
	}

	// Unknown type, empty result. The config loader rejects these, so this
	// is only reachable for a value outside the declared AnonType set. JSON
	// is dispatched by the rewriter before reaching transform.
	return Result{Data: nil, Quoting: core.QuoteAsInput}
}

func (e *Engine) warnKeyOrder(ctx *Context, mode string) {
	if ctx != nil && len(ctx.TableKey) == 0 && ctx.FirstInsert {
		fmt.Fprintf(e.errw,
			"WARNING! Table %s fields order: for %s mode, the key must be defined before the field to anonymize\n",
			ctx.TableName, mode)
	}
}

func ctxKey(ctx *Context) []byte {
	if ctx == nil {
		return nil
	}
	return ctx.TableKey
}

func ctxIndex(ctx *Context) int {
	if ctx == nil {
		return 0
	}
	return ctx.RowIndex
}

func concat(a, b []byte) []byte {
	out := make([]byte, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

// stripQuotes removes exactly one leading and one trailing single quote.
func stripQuotes(token []byte) []byte {
	if len(token) > 0 && token[0] == '\'' {
		token = token[1:]
	}
	if len(token) > 0 && token[len(token)-1] == '\'' {
		token = token[:len(token)-1]
	}
	return token
}
