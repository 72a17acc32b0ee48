package parser

import (
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// extensionLanguage maps file extensions to language names. New languages
// register an Extractor under the same key via RegisterExtractor.
var extensionLanguage = map[string]string{
	".go": "go",
}

// Orchestrator dispatches source files to the extractor registered for
// their detected language, capturing per-file errors instead of aborting
// a batch.
type Orchestrator struct {
	extractors map[string]Extractor
	log        *zap.Logger
}

// NewOrchestrator builds an orchestrator with no extractors registered;
// call RegisterExtractor for each supported language.
func NewOrchestrator(log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{extractors: make(map[string]Extractor), log: log}
}

// RegisterExtractor makes e available for its declared language.
func (o *Orchestrator) RegisterExtractor(e Extractor) {
	o.extractors[e.Language()] = e
}

// DetectLanguage returns the language registered for filePath's extension,
// or "" if unrecognised.
func (o *Orchestrator) DetectLanguage(filePath string) string {
	return extensionLanguage[strings.ToLower(filepath.Ext(filePath))]
}

// ParseFile extracts code elements from content, dispatching by filePath's
// extension. Detection and extractor-lookup failures are reported inside
// the returned ParseResult's Errors field rather than as a Go error, so a
// caller parsing many files can collect every result uniformly.
func (o *Orchestrator) ParseFile(filePath, content string) (result ParseResult) {
	lang := o.DetectLanguage(filePath)
	if lang == "" {
		return ParseResult{FilePath: filePath, Language: "unknown", Errors: []string{fmt.Sprintf("unsupported file type: %s", filepath.Ext(filePath))}}
	}

	extractor, ok := o.extractors[lang]
	if !ok {
		return ParseResult{FilePath: filePath, Language: lang, Errors: []string{fmt.Sprintf("no extractor registered for %s", lang)}}
	}

	defer func() {
		if r := recover(); r != nil {
			o.log.Error("extractor_panic", zap.String("file", filePath), zap.Any("recover", r))
			result = ParseResult{FilePath: filePath, Language: lang, Errors: []string{fmt.Sprintf("extractor panic: %v", r)}}
		}
	}()

	result = extractor.Extract(content, filePath)
	result.FilePath = filePath
	result.Language = lang
	return result
}

// ParseFiles parses every file in files (path -> content), collecting one
// ParseResult per file. A parse failure for one file never prevents the
// rest from being parsed.
func (o *Orchestrator) ParseFiles(files map[string]string) []ParseResult {
	results := make([]ParseResult, 0, len(files))
	for path, content := range files {
		results = append(results, o.ParseFile(path, content))
	}
	return results
}
