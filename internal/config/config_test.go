package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlanon/internal/core"
)

func load(t *testing.T, content string) (*core.Config, error) {
	t.Helper()
	return Load(strings.NewReader(content))
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := load(t, `
secret = "mysecret"
stats = true

[[tables]]
name = "people"

  [[tables.fields]]
  column = "name"
  type = "texthash"
  length = 12

  [[tables.fields]]
  column = "email"
  type = "emailhash"
  length = 10
  domain = "example.com"

  [[tables.fields]]
  column = "payload"
  type = "json"

    [[tables.fields.paths]]
    path = "profile.email"
    type = "emailhash"
    length = 8
    domain = "example.com"

[[tables]]
name = "sessions"
action = "truncate"

[[tables]]
name = "audit_.*"
regex = true

  [[tables.fields]]
  column = "actor"
  type = "fixedquoted"
  fixed_value = "someone"
`)
	require.NoError(t, err)

	assert.Equal(t, []byte("mysecret"), cfg.Secret)
	assert.True(t, cfg.Stats)
	require.Len(t, cfg.Tables, 3)

	people := cfg.Tables[0]
	assert.Equal(t, core.ActionAnonymize, people.Action)
	assert.Equal(t, []string{"name", "email", "payload"}, people.FieldOrder)
	assert.Equal(t, -1, people.Fields["name"].Position)
	assert.Equal(t, core.TextHash, people.Fields["name"].Spec.Type)
	assert.Equal(t, uint16(12), people.Fields["name"].Spec.Length)
	require.Len(t, people.Fields["payload"].JSONPaths, 1)
	assert.Equal(t, "profile.email", people.Fields["payload"].JSONPaths[0].Path)

	sessions := cfg.Tables[1]
	assert.Equal(t, core.ActionTruncate, sessions.Action)
	assert.Nil(t, sessions.Regex)

	audit := cfg.Tables[2]
	require.NotNil(t, audit.Regex)
	assert.True(t, audit.Matches("audit_2024"))
	assert.False(t, audit.Matches("prefix_audit_2024"), "regex is implicitly anchored")
}

func TestRuleForLiteralBeatsRegex(t *testing.T) {
	cfg, err := load(t, `
[[tables]]
name = "user.*"
regex = true

  [[tables.fields]]
  column = "a"
  type = "fixed"
  fixed_value = "v"

[[tables]]
name = "users"

  [[tables.fields]]
  column = "b"
  type = "fixed"
  fixed_value = "w"
`)
	require.NoError(t, err)

	rule := cfg.RuleFor("users")
	require.NotNil(t, rule)
	assert.Equal(t, "users", rule.Key)

	rule = cfg.RuleFor("user_archive")
	require.NotNil(t, rule)
	assert.Equal(t, "user.*", rule.Key)

	assert.Nil(t, cfg.RuleFor("orders"))
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			"hash without secret",
			"[[tables]]\nname = \"t\"\n[[tables.fields]]\ncolumn = \"a\"\ntype = \"texthash\"\nlength = 8\n",
			"secret",
		},
		{
			"hash without length",
			"secret = \"s\"\n[[tables]]\nname = \"t\"\n[[tables.fields]]\ncolumn = \"a\"\ntype = \"texthash\"\n",
			"length",
		},
		{
			"length above digest size",
			"secret = \"s\"\n[[tables]]\nname = \"t\"\n[[tables.fields]]\ncolumn = \"a\"\ntype = \"texthash\"\nlength = 64\n",
			"out of range",
		},
		{
			"emailhash without domain",
			"secret = \"s\"\n[[tables]]\nname = \"t\"\n[[tables.fields]]\ncolumn = \"a\"\ntype = \"emailhash\"\nlength = 8\n",
			"domain",
		},
		{
			"domain on non-email type",
			"secret = \"s\"\n[[tables]]\nname = \"t\"\n[[tables.fields]]\ncolumn = \"a\"\ntype = \"texthash\"\nlength = 8\ndomain = \"x.com\"\n",
			"domain",
		},
		{
			"fixed without value",
			"[[tables]]\nname = \"t\"\n[[tables.fields]]\ncolumn = \"a\"\ntype = \"fixedquoted\"\n",
			"fixed_value",
		},
		{
			"unknown type",
			"[[tables]]\nname = \"t\"\n[[tables.fields]]\ncolumn = \"a\"\ntype = \"rot13\"\n",
			"unknown type",
		},
		{
			"truncate with fields",
			"[[tables]]\nname = \"t\"\naction = \"truncate\"\n[[tables.fields]]\ncolumn = \"a\"\ntype = \"fixed\"\nfixed_value = \"v\"\n",
			"truncate",
		},
		{
			"anonymize without fields",
			"[[tables]]\nname = \"t\"\n",
			"at least one field",
		},
		{
			"bad regex",
			"[[tables]]\nname = \"[\"\nregex = true\n[[tables.fields]]\ncolumn = \"a\"\ntype = \"fixed\"\nfixed_value = \"v\"\n",
			"regex",
		},
		{
			"duplicate json path",
			"[[tables]]\nname = \"t\"\n[[tables.fields]]\ncolumn = \"a\"\ntype = \"json\"\n[[tables.fields.paths]]\npath = \"x\"\ntype = \"substring\"\nlength = 2\n[[tables.fields.paths]]\npath = \"x\"\ntype = \"substring\"\nlength = 3\n",
			"duplicate",
		},
		{
			"script without function",
			"script_file = \"f.expr\"\n[[tables]]\nname = \"t\"\n[[tables.fields]]\ncolumn = \"a\"\ntype = \"script\"\n",
			"function",
		},
		{
			"script without script_file",
			"[[tables]]\nname = \"t\"\n[[tables.fields]]\ncolumn = \"a\"\ntype = \"script\"\nfunction = \"f\"\n",
			"script_file",
		},
		{
			"separator longer than one byte",
			"[[tables]]\nname = \"t\"\n[[tables.fields]]\ncolumn = \"a\"\ntype = \"fixed\"\nfixed_value = \"v\"\nseparator = \"ab\"\n",
			"separator",
		},
		{
			"unknown top-level key",
			"sekret = \"s\"\n",
			"unknown key",
		},
		{
			"duplicate table",
			"[[tables]]\nname = \"t\"\naction = \"truncate\"\n[[tables]]\nname = \"t\"\naction = \"truncate\"\n",
			"duplicate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(t, tt.content)
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
