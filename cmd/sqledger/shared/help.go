package shared

import "strings"

// CLIHelp cleans up a raw multi-line string for use as a cobra Long
// description: the indentation the raw literal picks up from the source is
// stripped, along with surrounding blank lines.
func CLIHelp(s string) string {
	return strings.TrimSpace(dedent(s))
}

// CLIExample cleans up a raw multi-line string for use as a cobra Example.
// cobra prints examples under an "Examples:" heading, so every line is
// indented two spaces.
func CLIExample(s string) string {
	lines := strings.Split(strings.TrimSpace(dedent(s)), "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = "  " + line
		}
	}
	return strings.Join(lines, "\n")
}

func dedent(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(strings.TrimPrefix(line, "\t"), " \t")
	}
	return strings.Join(lines, "\n")
}
