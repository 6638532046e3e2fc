// Package flagx lets several components parse their own subset of os.Args
// without tripping over each other's flags.
package flagx

import (
	"flag"
	"io"
	"strings"
)

// FilterArgs keeps only allowedFlags (and their values) from args.
//
// Both "-p 13129" and "-p=13129" forms are recognised. A token that starts
// with "-" is never consumed as a value.
func FilterArgs(args []string, allowedFlags []string) []string {
	allowed := make(map[string]bool, len(allowedFlags))
	for _, f := range allowedFlags {
		allowed[f] = true
	}

	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		name, _, hasValue := strings.Cut(args[i], "=")
		if !strings.HasPrefix(name, "-") || !allowed[name] {
			continue
		}
		out = append(out, args[i])
		if hasValue {
			continue
		}
		if next := i + 1; next < len(args) && !strings.HasPrefix(args[next], "-") {
			out = append(out, args[next])
			i = next
		}
	}
	return out
}

// Parse registers flags with define on a fresh FlagSet and parses only the
// arguments naming one of them. Usage output is discarded.
func Parse(args []string, define func(fs *flag.FlagSet)) error {
	fs := flag.NewFlagSet("gophpaste", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	define(fs)

	var names []string
	fs.VisitAll(func(f *flag.Flag) {
		names = append(names, "-"+f.Name, "--"+f.Name)
	})
	return fs.Parse(FilterArgs(args, names))
}

// ConfigFileFlag returns the config file path given with -c or -config, or
// an empty string. The file may be JSON or TOML; the caller picks the
// decoder by extension.
func ConfigFileFlag(args []string) string {
	var path string
	_ = Parse(args, func(fs *flag.FlagSet) {
		fs.StringVar(&path, "config", "", "path to config file")
		fs.StringVar(&path, "c", "", "path to config file (short)")
	})
	return path
}
