package infrastructure

import "strings"

// shellMeta are the characters that change meaning when a shell reads an argument unquoted
const shellMeta = " \t\n\r'\"$`\\!*?[](){}|;<>&~#%"

// QuoteArg renders one argument so it can be pasted back into a POSIX shell.
// Log lines only; exec never goes through a shell.
func QuoteArg(arg string) string {
	if arg == "" {
		return "''"
	}
	if !strings.ContainsAny(arg, shellMeta) {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'"'"'`) + "'"
}

// FormatCommandLine renders an invocation for the extraction log
func FormatCommandLine(binary string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, QuoteArg(binary))
	for _, a := range args {
		parts = append(parts, QuoteArg(a))
	}
	return strings.Join(parts, " ")
}
