package flagx

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterArgs(t *testing.T) {
	allowed := []string{"-c", "-config", "-p"}

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"separate values", []string{"-p", "13129", "-data", "/tmp/x", "-c", "a.toml"}, []string{"-p", "13129", "-c", "a.toml"}},
		{"equals form", []string{"-config=a.json", "-name=laptop"}, []string{"-config=a.json"}},
		{"order preserved", []string{"-c", "b.toml", "-p=1"}, []string{"-c", "b.toml", "-p=1"}},
		{"nothing allowed", []string{"-name", "x", "positional"}, []string{}},
		{"trailing flag without value", []string{"-p"}, []string{"-p"}},
		{"next token is a flag", []string{"-c", "-name", "x"}, []string{"-c"}},
		{"equals value starting with dash", []string{"-config=-odd.toml"}, []string{"-config=-odd.toml"}},
		{"empty", nil, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterArgs(tt.args, allowed))
		})
	}
}

func TestConfigFileFlag(t *testing.T) {
	cases := map[string]struct {
		args []string
		want string
	}{
		"short":         {[]string{"-c", "/etc/gophpaste.toml"}, "/etc/gophpaste.toml"},
		"long equals":   {[]string{"-config=cfg.json"}, "cfg.json"},
		"double dash":   {[]string{"--config", "cfg.json"}, "cfg.json"},
		"mixed flags":   {[]string{"-p", "13129", "-c", "x.toml", "-n", "desk"}, "x.toml"},
		"absent":        {[]string{"-p", "13129"}, ""},
		"missing value": {[]string{"-c"}, ""},
		"no arguments":  {nil, ""},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, ConfigFileFlag(tc.args))
		})
	}
}

func TestParse_OnlyOwnFlags(t *testing.T) {
	var port int
	var name string
	err := Parse([]string{"-c", "a.toml", "-p", "13200", "--verbose", "-n=desk"}, func(fs *flag.FlagSet) {
		fs.IntVar(&port, "p", 1, "")
		fs.StringVar(&name, "n", "", "")
	})
	require.NoError(t, err)
	assert.Equal(t, 13200, port)
	assert.Equal(t, "desk", name)

	err = Parse([]string{"-p", "not-a-number"}, func(fs *flag.FlagSet) {
		fs.IntVar(&port, "p", 1, "")
	})
	assert.Error(t, err)
}
