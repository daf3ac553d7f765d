// Package config loads the sqlanon TOML configuration file and converts it
// into the core rule tree that the dump rewriter consumes. Semantic
// validation happens here: once a Config is returned, the rest of the
// pipeline can assume it is consistent.
package config

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"

	"sqlanon/internal/core"
)

// tomlFile is the top-level TOML document.
type tomlFile struct {
	Secret     string      `toml:"secret"`
	Stats      bool        `toml:"stats"`
	ScriptDir  string      `toml:"script_dir"`
	ScriptFile string      `toml:"script_file"`
	Tables     []tomlTable `toml:"tables"`
}

// tomlTable maps one [[tables]] entry. Name is a literal table identifier
// unless regex is set, in which case it is compiled as an implicitly
// anchored regular expression.
type tomlTable struct {
	Name   string      `toml:"name"`
	Regex  bool        `toml:"regex"`
	Action string      `toml:"action"`
	Fields []tomlField `toml:"fields"`
}

// tomlField maps one [[tables.fields]] entry.
type tomlField struct {
	Column     string     `toml:"column"`
	Type       string     `toml:"type"`
	Length     int        `toml:"length"`
	Domain     string     `toml:"domain"`
	FixedValue string     `toml:"fixed_value"`
	Separator  string     `toml:"separator"`
	Function   string     `toml:"function"`
	Paths      []tomlPath `toml:"paths"`
}

// tomlPath maps one [[tables.fields.paths]] entry of a json field.
type tomlPath struct {
	Path       string `toml:"path"`
	Type       string `toml:"type"`
	Length     int    `toml:"length"`
	Domain     string `toml:"domain"`
	FixedValue string `toml:"fixed_value"`
	Function   string `toml:"function"`
}

// LoadFile opens and parses the configuration at the given path.
func LoadFile(path string) (*core.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	return Load(f)
}

// Load parses TOML configuration content from r.
func Load(r io.Reader) (*core.Config, error) {
	var tf tomlFile
	md, err := toml.NewDecoder(r).Decode(&tf)
	if err != nil {
		return nil, fmt.Errorf("config: decode error: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: unknown key %q", undecoded[0].String())
	}

	return newConverter(&tf).convert()
}

type converter struct {
	tf         *tomlFile
	seenTables map[string]bool
	usesHash   bool
	usesScript bool
}

func newConverter(tf *tomlFile) *converter {
	return &converter{
		tf:         tf,
		seenTables: make(map[string]bool, len(tf.Tables)),
	}
}

func (c *converter) convert() (*core.Config, error) {
	if len(c.tf.Secret) > core.MaxSecretLength {
		return nil, fmt.Errorf("config: secret longer than %d bytes", core.MaxSecretLength)
	}

	cfg := &core.Config{
		Secret:     []byte(c.tf.Secret),
		Stats:      c.tf.Stats,
		ScriptDir:  c.tf.ScriptDir,
		ScriptFile: c.tf.ScriptFile,
		Tables:     make([]*core.TableRule, 0, len(c.tf.Tables)),
	}

	for i := range c.tf.Tables {
		t, err := c.convertTable(&c.tf.Tables[i])
		if err != nil {
			return nil, fmt.Errorf("config: table %q: %w", c.tf.Tables[i].Name, err)
		}
		cfg.Tables = append(cfg.Tables, t)
	}

	if c.usesHash && len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("config: hash rules require a non-empty secret")
	}
	if c.usesScript && cfg.ScriptFile == "" {
		return nil, fmt.Errorf("config: script rules require script_file")
	}

	return cfg, nil
}

func (c *converter) convertTable(tt *tomlTable) (*core.TableRule, error) {
	if tt.Name == "" {
		return nil, fmt.Errorf("missing name")
	}
	if c.seenTables[tt.Name] {
		return nil, fmt.Errorf("duplicate table")
	}
	c.seenTables[tt.Name] = true

	rule := &core.TableRule{
		Key:    tt.Name,
		Fields: make(map[string]*core.FieldRule, len(tt.Fields)),
	}

	if tt.Regex {
		re, err := regexp.Compile("^(?:" + tt.Name + ")$")
		if err != nil {
			return nil, fmt.Errorf("invalid regex: %w", err)
		}
		rule.Regex = re
	}

	switch strings.ToLower(tt.Action) {
	case "", "anonymize":
		rule.Action = core.ActionAnonymize
	case "truncate":
		rule.Action = core.ActionTruncate
		if len(tt.Fields) > 0 {
			return nil, fmt.Errorf("truncate action takes no fields")
		}
		return rule, nil
	default:
		return nil, fmt.Errorf("unknown action %q", tt.Action)
	}

	if len(tt.Fields) == 0 {
		return nil, fmt.Errorf("anonymize action needs at least one field")
	}

	for i := range tt.Fields {
		f, err := c.convertField(&tt.Fields[i])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", tt.Fields[i].Column, err)
		}
		if _, dup := rule.Fields[f.Name]; dup {
			return nil, fmt.Errorf("field %q: duplicate column", f.Name)
		}
		rule.Fields[f.Name] = f
		rule.FieldOrder = append(rule.FieldOrder, f.Name)
	}

	return rule, nil
}

func (c *converter) convertField(tf *tomlField) (*core.FieldRule, error) {
	if tf.Column == "" {
		return nil, fmt.Errorf("missing column")
	}

	spec, err := c.convertSpec(tf.Type, tf.Length, tf.Domain, tf.FixedValue, tf.Function)
	if err != nil {
		return nil, err
	}

	if tf.Separator != "" {
		if len(tf.Separator) != 1 {
			return nil, fmt.Errorf("separator must be a single character")
		}
		spec.Separator = tf.Separator[0]
	}

	rule := &core.FieldRule{
		Name:     tf.Column,
		Position: -1,
		Spec:     *spec,
	}

	if spec.Type == core.JSON {
		if len(tf.Paths) == 0 {
			return nil, fmt.Errorf("json type needs at least one path")
		}
		seen := make(map[string]bool, len(tf.Paths))
		for i := range tf.Paths {
			p := &tf.Paths[i]
			if p.Path == "" {
				return nil, fmt.Errorf("path %d: missing path", i)
			}
			if seen[p.Path] {
				return nil, fmt.Errorf("path %q: duplicate", p.Path)
			}
			seen[p.Path] = true

			ps, err := c.convertSpec(p.Type, p.Length, p.Domain, p.FixedValue, p.Function)
			if err != nil {
				return nil, fmt.Errorf("path %q: %w", p.Path, err)
			}
			if ps.Type == core.JSON {
				return nil, fmt.Errorf("path %q: nested json rules are not supported", p.Path)
			}
			rule.JSONPaths = append(rule.JSONPaths, &core.JSONPathSpec{Path: p.Path, Spec: ps})
		}
	} else if len(tf.Paths) > 0 {
		return nil, fmt.Errorf("paths are only valid for json type")
	}

	return rule, nil
}

func (c *converter) convertSpec(typ string, length int, domain, fixed, function string) (*core.FieldSpec, error) {
	if typ == "" {
		return nil, fmt.Errorf("missing type")
	}
	at, ok := core.ParseAnonType(typ)
	if !ok {
		return nil, fmt.Errorf("unknown type %q", typ)
	}

	spec := &core.FieldSpec{Type: at}

	if length < 0 || length > core.MaxHashLength {
		return nil, fmt.Errorf("length %d out of range (max %d)", length, core.MaxHashLength)
	}
	spec.Length = uint16(length)

	switch {
	case at == core.EmailHash && domain == "":
		return nil, fmt.Errorf("emailhash needs a domain")
	case at != core.EmailHash && domain != "":
		return nil, fmt.Errorf("domain is only valid for emailhash")
	}
	if len(domain) > core.MaxSecretLength {
		return nil, fmt.Errorf("domain longer than %d bytes", core.MaxSecretLength)
	}
	spec.Domain = domain

	if at.NeedsFixedValue() && fixed == "" {
		return nil, fmt.Errorf("%s needs a fixed_value", at)
	}
	spec.FixedValue = fixed

	if at == core.Script {
		if function == "" {
			return nil, fmt.Errorf("script needs a function name")
		}
		c.usesScript = true
	} else if function != "" {
		return nil, fmt.Errorf("function is only valid for script")
	}
	spec.ScriptFunc = function

	if at.NeedsSecret() {
		c.usesHash = true
		if length == 0 {
			return nil, fmt.Errorf("%s needs a length", at)
		}
	}

	return spec, nil
}
