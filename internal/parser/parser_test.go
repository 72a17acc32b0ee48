package parser

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleGoSource = `package sample

import "fmt"

// Greeter says hello.
type Greeter struct {
	Name string
}

// Greet prints a greeting.
func (g *Greeter) Greet() {
	fmt.Println(helper(g.Name))
}

func helper(name string) string {
	return "hello " + name
}
`

func TestGoExtractorExtractsFunctionsClassesAndImports(t *testing.T) {
	e := NewGoExtractor()
	result := e.Extract(sampleGoSource, "sample.go")

	require.Empty(t, result.Errors)
	require.Len(t, result.Functions, 2)
	require.Len(t, result.Classes, 1)
	require.Equal(t, "Greeter", result.Classes[0].Name)
	require.Contains(t, result.Classes[0].Methods, "Greet")

	require.Len(t, result.Imports, 1)
	require.Equal(t, "fmt", result.Imports[0].Path)
}

func TestGoExtractorExtractsCalls(t *testing.T) {
	e := NewGoExtractor()
	result := e.Extract(sampleGoSource, "sample.go")

	var found bool
	for _, c := range result.Calls {
		if c.Caller == "Greet" && c.Callee == "helper" {
			found = true
		}
	}
	require.True(t, found, "expected a CALLS edge from Greet to helper")
}

func TestGoExtractorReportsSyntaxErrorsWithoutPanicking(t *testing.T) {
	e := NewGoExtractor()
	result := e.Extract("package sample\nfunc broken(", "broken.go")
	require.NotEmpty(t, result.Errors)
}

func TestOrchestratorDispatchesByExtension(t *testing.T) {
	o := NewOrchestrator(nil)
	o.RegisterExtractor(NewGoExtractor())

	result := o.ParseFile("sample.go", sampleGoSource)
	require.Equal(t, "go", result.Language)
	require.Empty(t, result.Errors)
	require.Len(t, result.Functions, 2)
}

func TestOrchestratorReportsUnsupportedExtension(t *testing.T) {
	o := NewOrchestrator(nil)
	result := o.ParseFile("script.py", "def f(): pass")
	require.Equal(t, "unknown", result.Language)
	require.NotEmpty(t, result.Errors)
}

func TestOrchestratorParseFilesContinuesPastOneBadFile(t *testing.T) {
	o := NewOrchestrator(nil)
	o.RegisterExtractor(NewGoExtractor())

	results := o.ParseFiles(map[string]string{
		"good.go": sampleGoSource,
		"bad.go":  "not valid go {{{",
	})
	require.Len(t, results, 2)

	var sawGood, sawBad bool
	for _, r := range results {
		if r.FilePath == "good.go" {
			sawGood = true
			require.Empty(t, r.Errors)
		}
		if r.FilePath == "bad.go" {
			sawBad = true
			require.NotEmpty(t, r.Errors)
		}
	}
	require.True(t, sawGood)
	require.True(t, sawBad)
}
