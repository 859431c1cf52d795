package errors

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DiagnosticKind classifies a line of backend or linker output.
type DiagnosticKind int

const (
	DiagnosticUnknown DiagnosticKind = iota
	DiagnosticCompile
	DiagnosticLink
	DiagnosticFileNotFound
	DiagnosticPermission
)

// String returns the kind name.
func (k DiagnosticKind) String() string {
	switch k {
	case DiagnosticCompile:
		return "compile"
	case DiagnosticLink:
		return "link"
	case DiagnosticFileNotFound:
		return "file not found"
	case DiagnosticPermission:
		return "permission"
	default:
		return "unknown"
	}
}

// Severity of a diagnostic.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityNote
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityNote:
		return "note"
	default:
		return "error"
	}
}

func parseSeverity(s string) Severity {
	switch strings.ToLower(s) {
	case "warning":
		return SeverityWarning
	case "note":
		return SeverityNote
	default:
		return SeverityError
	}
}

// Diagnostic is one structured message extracted from tool output.
type Diagnostic struct {
	Kind     DiagnosticKind `json:"kind" yaml:"kind"`
	Severity Severity       `json:"severity" yaml:"severity"`
	Code     string         `json:"code,omitempty" yaml:"code,omitempty"`
	File     string         `json:"file,omitempty" yaml:"file,omitempty"`
	Line     int            `json:"line,omitempty" yaml:"line,omitempty"`
	Column   int            `json:"column,omitempty" yaml:"column,omitempty"`
	Message  string         `json:"message" yaml:"message"`
	Raw      string         `json:"raw" yaml:"raw"`
}

// ErrorParser extracts diagnostics from backend and linker output.
type ErrorParser struct {
	patterns []diagnosticPattern
}

type diagnosticPattern struct {
	regex *regexp.Regexp
	kind  DiagnosticKind
	parse func(d *Diagnostic, matches []string)
}

var (
	// " --> main.k:2:5" follows a KCL "error[E2G22]: TypeError" header.
	kclHeader   = regexp.MustCompile(`^(error|warning)\[([A-Z0-9]+)\]: (.+)$`)
	kclLocation = regexp.MustCompile(`^-->\s*(.+?):(\d+)(?::(\d+))?$`)
)

// NewErrorParser creates a parser for clang/llc style and KCL style output.
func NewErrorParser() *ErrorParser {
	return &ErrorParser{patterns: buildPatterns()}
}

// Parse splits output into diagnostics. Lines that match no pattern but
// mention an error or failure become DiagnosticUnknown entries.
func (ep *ErrorParser) Parse(output string) []Diagnostic {
	var diagnostics []Diagnostic
	lines := strings.Split(output, "\n")

	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}

		if m := kclHeader.FindStringSubmatch(line); m != nil {
			d := Diagnostic{
				Kind:     DiagnosticCompile,
				Severity: parseSeverity(m[1]),
				Code:     m[2],
				Message:  m[3],
				Raw:      line,
			}
			if i+1 < len(lines) {
				if loc := kclLocation.FindStringSubmatch(strings.TrimSpace(lines[i+1])); loc != nil {
					d.File = loc[1]
					d.Line, _ = strconv.Atoi(loc[2])
					d.Column, _ = strconv.Atoi(loc[3])
					i++
				}
			}
			diagnostics = append(diagnostics, d)
			continue
		}

		if d, ok := ep.match(line); ok {
			diagnostics = append(diagnostics, d)
			continue
		}

		lower := strings.ToLower(line)
		if strings.Contains(lower, "error") || strings.Contains(lower, "failed") {
			diagnostics = append(diagnostics, Diagnostic{
				Kind:     DiagnosticUnknown,
				Severity: SeverityError,
				Message:  line,
				Raw:      line,
			})
		}
	}

	return diagnostics
}

func (ep *ErrorParser) match(line string) (Diagnostic, bool) {
	for _, pattern := range ep.patterns {
		if m := pattern.regex.FindStringSubmatch(line); m != nil {
			d := Diagnostic{Kind: pattern.kind, Severity: SeverityError, Raw: line}
			pattern.parse(&d, m)
			return d, true
		}
	}
	return Diagnostic{}, false
}

func buildPatterns() []diagnosticPattern {
	return []diagnosticPattern{
		{
			// main.k:3:7: error: undefined symbol
			regex: regexp.MustCompile(`^(.+?):(\d+):(\d+): (error|warning|note): (.+)$`),
			kind:  DiagnosticCompile,
			parse: func(d *Diagnostic, m []string) {
				d.File = m[1]
				d.Line, _ = strconv.Atoi(m[2])
				d.Column, _ = strconv.Atoi(m[3])
				d.Severity = parseSeverity(m[4])
				d.Message = m[5]
			},
		},
		{
			// main.k:3: undefined symbol
			regex: regexp.MustCompile(`^([^\s:]+):(\d+): (.+)$`),
			kind:  DiagnosticCompile,
			parse: func(d *Diagnostic, m []string) {
				d.File = m[1]
				d.Line, _ = strconv.Atoi(m[2])
				d.Message = m[3]
			},
		},
		{
			regex: regexp.MustCompile(`^(?:ld|ld\.lld|lld|collect2)(?:\.exe)?: (?:error: )?(.+)$`),
			kind:  DiagnosticLink,
			parse: func(d *Diagnostic, m []string) {
				d.Message = m[1]
			},
		},
		{
			regex: regexp.MustCompile(`^(?:clang|llc|cc|gcc)(?:\.exe)?: (error|warning): (.+)$`),
			kind:  DiagnosticCompile,
			parse: func(d *Diagnostic, m []string) {
				d.Severity = parseSeverity(m[1])
				d.Message = m[2]
			},
		},
		{
			regex: regexp.MustCompile(`(?i)^(?:.*: )?(.+?): no such file or directory$`),
			kind:  DiagnosticFileNotFound,
			parse: func(d *Diagnostic, m []string) {
				d.File = m[1]
				d.Message = "file not found"
			},
		},
		{
			regex: regexp.MustCompile(`(?i)^(?:.*: )?(.+?): permission denied$`),
			kind:  DiagnosticPermission,
			parse: func(d *Diagnostic, m []string) {
				d.File = m[1]
				d.Message = "permission denied"
			},
		},
	}
}

// Location renders "file:line:column", omitting unknown parts.
func (d Diagnostic) Location() string {
	if d.File == "" {
		return ""
	}
	loc := d.File
	if d.Line > 0 {
		loc += ":" + strconv.Itoa(d.Line)
		if d.Column > 0 {
			loc += ":" + strconv.Itoa(d.Column)
		}
	}
	return loc
}

// String formats a diagnostic on one line.
func (d Diagnostic) String() string {
	var b strings.Builder
	if loc := d.Location(); loc != "" {
		b.WriteString(loc)
		b.WriteString(": ")
	}
	b.WriteString(d.Severity.String())
	if d.Code != "" {
		fmt.Fprintf(&b, "[%s]", d.Code)
	}
	b.WriteString(": ")
	b.WriteString(d.Message)
	return b.String()
}

// Errors returns only the diagnostics of error severity.
func Errors(diagnostics []Diagnostic) []Diagnostic {
	var out []Diagnostic
	for _, d := range diagnostics {
		if d.Severity == SeverityError {
			out = append(out, d)
		}
	}
	return out
}
