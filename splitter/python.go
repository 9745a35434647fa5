package splitter

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	funcNameRe  = regexp.MustCompile(`def\s+(\w+)\s*\(`)
	classNameRe = regexp.MustCompile(`class\s+(\w+)\s*(?:\(|:)`)

	topLevelFuncRe  = regexp.MustCompile(`^def\s+(\w+)\s*\(`)
	topLevelClassRe = regexp.MustCompile(`^class\s+(\w+)\s*(?:\(|:)`)
)

// extractFunctionNames returns the names of python function definitions found
// by a syntactic scan. Nested definitions are included.
func extractFunctionNames(code string) []string {
	var names []string
	for _, m := range funcNameRe.FindAllStringSubmatch(code, -1) {
		names = append(names, m[1])
	}
	return names
}

// extractClassNames returns the names of python class definitions found by a
// syntactic scan.
func extractClassNames(code string) []string {
	var names []string
	for _, m := range classNameRe.FindAllStringSubmatch(code, -1) {
		names = append(names, m[1])
	}
	return names
}

// pythonDefinition is one top-level def or class located in a code block.
// start and end are line indexes, both inclusive.
type pythonDefinition struct {
	name    string
	isClass bool
	start   int
	end     int
}

// lineState captures the scanner state at the start of a line.
type lineState struct {
	depth    int
	inString bool
}

// parsePythonDefinitions locates top-level function and class definitions by
// scanning lines with bracket and string tracking. It returns an error when
// the code does not look like complete python source (unbalanced brackets or
// an unterminated string), the cheap stand-in for a parser rejecting invalid
// syntax. Only column-zero definitions count as top-level; a definition runs
// until the next column-zero statement, trailing blank lines excluded.
func parsePythonDefinitions(code string) ([]pythonDefinition, error) {
	lines := strings.Split(code, "\n")
	states, err := scanLineStates(lines)
	if err != nil {
		return nil, err
	}

	var defs []pythonDefinition
	for i := 0; i < len(lines); i++ {
		if states[i].inString || states[i].depth > 0 {
			continue
		}
		isClass := false
		m := topLevelFuncRe.FindStringSubmatch(lines[i])
		if m == nil {
			if m = topLevelClassRe.FindStringSubmatch(lines[i]); m == nil {
				continue
			}
			isClass = true
		}

		end := i
		for j := i + 1; j < len(lines); j++ {
			if states[j].inString || states[j].depth > 0 {
				end = j
				continue
			}
			line := lines[j]
			if strings.TrimSpace(line) == "" {
				continue
			}
			if line[0] != ' ' && line[0] != '\t' {
				break
			}
			end = j
		}
		defs = append(defs, pythonDefinition{name: m[1], isClass: isClass, start: i, end: end})
		i = end
	}
	return defs, nil
}

// scanLineStates walks the code once, tracking bracket depth and triple-quoted
// strings, and records the state each line starts in. Comments and single-line
// string literals are skipped so their brackets do not count.
func scanLineStates(lines []string) ([]lineState, error) {
	states := make([]lineState, len(lines))
	depth := 0
	stringDelim := ""

	for i, line := range lines {
		states[i] = lineState{depth: depth, inString: stringDelim != ""}

		j := 0
		for j < len(line) {
			if stringDelim != "" {
				if strings.HasPrefix(line[j:], stringDelim) {
					stringDelim = ""
					j += 3
					continue
				}
				j++
				continue
			}
			switch line[j] {
			case '#':
				j = len(line)
			case '"', '\'':
				quote := line[j : j+1]
				if strings.HasPrefix(line[j:], strings.Repeat(quote, 3)) {
					stringDelim = strings.Repeat(quote, 3)
					j += 3
					continue
				}
				closed := false
				j++
				for j < len(line) {
					if line[j] == '\\' {
						j += 2
						continue
					}
					if line[j:j+1] == quote {
						closed = true
						j++
						break
					}
					j++
				}
				if !closed {
					return nil, fmt.Errorf("unterminated string literal at line %d", i+1)
				}
			case '(', '[', '{':
				depth++
				j++
			case ')', ']', '}':
				depth--
				if depth < 0 {
					return nil, fmt.Errorf("unbalanced bracket at line %d", i+1)
				}
				j++
			default:
				j++
			}
		}
	}

	if depth != 0 {
		return nil, fmt.Errorf("unbalanced brackets, depth %d at end of code", depth)
	}
	if stringDelim != "" {
		return nil, fmt.Errorf("unterminated %s string", stringDelim)
	}
	return states, nil
}
