package checker

import (
	"bufio"
	"bytes"
	"regexp"
	"strconv"
)

var diagnosticLine = regexp.MustCompile(`^([^:\s][^:]*):(\d+):(?:(\d+):)?\s*(fatal error|error|warning|note):\s*(.*)$`)

// parseDiagnostics extracts "file:line[:col]: severity: message" lines.
func parseDiagnostics(out []byte) []Diagnostic {
	var diags []Diagnostic
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		m := diagnosticLine.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		line, _ := strconv.Atoi(m[2])
		col, _ := strconv.Atoi(m[3])
		diags = append(diags, Diagnostic{
			File:     m[1],
			Line:     line,
			Column:   col,
			Severity: m[4],
			Message:  m[5],
		})
	}
	return diags
}
