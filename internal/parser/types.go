// Package parser implements the parser orchestrator component (C9):
// extension-to-language dispatch onto a pluggable per-language Extractor,
// producing a uniform ParseResult so downstream code (the embedding
// pipeline feeding function/component memories) never branches on
// language.
package parser

// FunctionInfo describes one extracted function or method.
type FunctionInfo struct {
	Name            string
	Signature       string
	FilePath        string
	StartLine       int
	EndLine         int
	Docstring       string
	ContainingClass string
}

// ClassInfo describes one extracted type/class/struct definition.
type ClassInfo struct {
	Name      string
	FilePath  string
	StartLine int
	EndLine   int
	Docstring string
	Methods   []string
}

// ImportInfo describes one import/require statement.
type ImportInfo struct {
	Path  string
	Alias string
}

// CallInfo describes one call-site, used to derive CALLS edges.
type CallInfo struct {
	Caller string
	Callee string
	Line   int
}

// ParseResult is the uniform output of extracting one source file.
type ParseResult struct {
	FilePath  string
	Language  string
	Functions []FunctionInfo
	Classes   []ClassInfo
	Imports   []ImportInfo
	Calls     []CallInfo
	Errors    []string
}

// Extractor extracts code elements from one language's source files.
// The orchestrator calls an extractor for one file at a time.
type Extractor interface {
	Language() string
	Extract(source, filePath string) ParseResult
	ExtractFunctions(source, filePath string) []FunctionInfo
	ExtractClasses(source, filePath string) []ClassInfo
	ExtractImports(source string) []ImportInfo
	ExtractCalls(source string) []CallInfo
}
