package command

import "strings"

// InputKind identifies how a line of user input was classified.
type InputKind int

const (
	InputRawCoAP InputKind = iota
	InputRawDiagnostic
	InputCommand
)

// Classified is the result of classifying one line of user input
// against the registry
type Classified struct {
	Kind       InputKind
	Path       string      // InputRawCoAP
	Text       string      // InputRawDiagnostic, and the full text for InputCommand
	Descriptor *Descriptor // InputCommand
}

// Classify inspects text (with any redirection suffix already stripped
// by the caller) and determines whether it is a raw CoAP path, raw
// diagnostic text, or a known command invocation.
func (r *Registry) Classify(text string) Classified {
	fields := strings.Fields(text)
	if len(fields) > 0 {
		if d, ok := r.Lookup(fields[0]); ok {
			return Classified{Kind: InputCommand, Text: text, Descriptor: d}
		}
	}
	if strings.HasPrefix(text, "/") {
		return Classified{Kind: InputRawCoAP, Path: text}
	}
	return Classified{Kind: InputRawDiagnostic, Text: text}
}
