package anonymize

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// scriptRunner holds the user's expression definitions. The definition file
// is read once on first use; individual expressions are compiled lazily and
// cached by name.
type scriptRunner struct {
	sources  map[string]string
	programs map[string]*vm.Program
}

// runScript evaluates the named user expression against the unquoted token
// and returns its string result.
func (e *Engine) runScript(name string, work []byte) ([]byte, error) {
	if e.scripts == nil {
		r, err := loadScripts(e.cfg.ScriptDir, e.cfg.ScriptFile)
		if err != nil {
			return nil, err
		}
		e.scripts = r
	}

	prog, err := e.scripts.program(name)
	if err != nil {
		return nil, err
	}

	env := map[string]any{
		"value":       string(work),
		"secret":      func() string { return string(e.cfg.Secret) },
		"sqlEscape":   EscapeSQLString,
		"sqlUnescape": UnescapeSQLString,
	}

	out, err := expr.Run(prog, env)
	if err != nil {
		return nil, fmt.Errorf("run %q: %w", name, err)
	}
	s, ok := out.(string)
	if !ok {
		return nil, fmt.Errorf("run %q: result is %T, want string", name, out)
	}
	return []byte(s), nil
}

func (r *scriptRunner) program(name string) (*vm.Program, error) {
	if p, ok := r.programs[name]; ok {
		return p, nil
	}
	src, ok := r.sources[name]
	if !ok {
		return nil, fmt.Errorf("no expression named %q in script file", name)
	}
	p, err := expr.Compile(src, expr.Env(map[string]any{
		"value":       "",
		"secret":      func() string { return "" },
		"sqlEscape":   EscapeSQLString,
		"sqlUnescape": UnescapeSQLString,
	}))
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", name, err)
	}
	r.programs[name] = p
	return p, nil
}

// loadScripts reads a definition file of the form "name = expression", one
// definition per line. Blank lines and lines starting with '#' are ignored.
func loadScripts(dir, file string) (*scriptRunner, error) {
	if file == "" {
		return nil, fmt.Errorf("script rule used but no script_file configured")
	}

	path := file
	if dir != "" && !filepath.IsAbs(file) {
		path = filepath.Join(dir, file)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open script file: %w", err)
	}
	defer f.Close()

	r := &scriptRunner{
		sources:  make(map[string]string),
		programs: make(map[string]*vm.Program),
	}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		name, src, ok := strings.Cut(text, "=")
		if !ok {
			return nil, fmt.Errorf("script file %s line %d: want \"name = expression\"", path, line)
		}
		name = strings.TrimSpace(name)
		src = strings.TrimSpace(src)
		if name == "" || src == "" {
			return nil, fmt.Errorf("script file %s line %d: empty name or expression", path, line)
		}
		r.sources[name] = src
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read script file: %w", err)
	}
	return r, nil
}
