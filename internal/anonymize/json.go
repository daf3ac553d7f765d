package anonymize

import (
	"encoding/json"
	"strconv"
	"strings"

	"sqlanon/internal/core"
)

// AnonymizeJSON rewrites the configured dotted paths inside a JSON document
// cell. The token arrives with SQL escapes intact; the document is
// SQL-unescaped before parsing and the rewritten document is SQL-escaped
// again so the emitted cell stays a valid single-quoted literal.
//
// A path that does not resolve is skipped silently (its hit counter stays
// at zero). A document that does not parse is reported as an error; the
// caller emits the original cell unchanged.
func (e *Engine) AnonymizeJSON(quoted bool, rule *core.FieldRule, token []byte, ctx *Context) (Result, error) {
	work := token
	if quoted {
		work = stripQuotes(token)
	}

	doc := UnescapeSQLString(string(work))

	dec := json.NewDecoder(strings.NewReader(doc))
	dec.UseNumber()
	var root any
	if err := dec.Decode(&root); err != nil {
		return Result{}, err
	}

	for _, ps := range rule.JSONPaths {
		segs := strings.Split(ps.Path, ".")
		var found bool
		root, found = e.rewriteAtPath(root, segs, ps.Spec, ctx)
		if found {
			ps.Spec.Hits++
		}
	}

	out, err := json.Marshal(root)
	if err != nil {
		return Result{}, err
	}

	rule.Spec.Hits++
	return Result{Data: []byte(EscapeSQLString(string(out))), Quoting: core.QuoteAsInput}, nil
}

// rewriteAtPath walks one dotted path. A numeric segment indexes an array
// when the current node is an array; any other combination of segment and
// node resolves as an object key. Intermediates that are not containers,
// missing keys, and out-of-range indices are all treated as "no match".
func (e *Engine) rewriteAtPath(node any, segs []string, spec *core.FieldSpec, ctx *Context) (any, bool) {
	if len(segs) == 0 {
		return e.rewriteLeaf(node, spec, ctx)
	}

	switch n := node.(type) {
	case map[string]any:
		child, ok := n[segs[0]]
		if !ok {
			return node, false
		}
		nv, found := e.rewriteAtPath(child, segs[1:], spec, ctx)
		if found {
			n[segs[0]] = nv
		}
		return node, found

	case []any:
		idx, err := strconv.Atoi(segs[0])
		if err != nil || idx < 0 || idx >= len(n) {
			return node, false
		}
		nv, found := e.rewriteAtPath(n[idx], segs[1:], spec, ctx)
		if found {
			n[idx] = nv
		}
		return node, found
	}

	return node, false
}

// rewriteLeaf anonymizes a scalar leaf through the regular transform and
// substitutes the result. Containers at the end of a path do not match.
func (e *Engine) rewriteLeaf(leaf any, spec *core.FieldSpec, ctx *Context) (any, bool) {
	var text string
	switch v := leaf.(type) {
	case string:
		text = v
	case json.Number:
		text = v.String()
	case bool:
		text = strconv.FormatBool(v)
	case nil:
		text = ""
	default:
		return leaf, false
	}

	res := e.transform(spec, []byte(text), ctx)

	// Numeric leaves rewritten by inthash stay numeric.
	if _, wasNumber := leaf.(json.Number); wasNumber && spec.Type == core.IntHash {
		return json.Number(res.Data), true
	}
	return string(res.Data), true
}
