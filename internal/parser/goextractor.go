package parser

import (
	"go/ast"
	"go/parser"
	"go/token"
	"strings"
)

// GoExtractor extracts functions, types, imports, and call sites from Go
// source using the standard library's go/parser and go/ast: no third-party
// Go source-analysis library appears anywhere in this codebase's
// dependency corpus, so this is the one component that reaches for the
// standard library by necessity rather than preference.
type GoExtractor struct{}

func NewGoExtractor() *GoExtractor { return &GoExtractor{} }

func (e *GoExtractor) Language() string { return "go" }

func (e *GoExtractor) Extract(source, filePath string) ParseResult {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filePath, source, parser.ParseComments)
	if err != nil {
		return ParseResult{Errors: []string{err.Error()}}
	}

	return ParseResult{
		Functions: e.extractFunctions(fset, file),
		Classes:   e.extractClasses(fset, file),
		Imports:   e.extractImports(file),
		Calls:     e.extractCalls(fset, file),
	}
}

func (e *GoExtractor) ExtractFunctions(source, filePath string) []FunctionInfo {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filePath, source, parser.ParseComments)
	if err != nil {
		return nil
	}
	return e.extractFunctions(fset, file)
}

func (e *GoExtractor) ExtractClasses(source, filePath string) []ClassInfo {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filePath, source, parser.ParseComments)
	if err != nil {
		return nil
	}
	return e.extractClasses(fset, file)
}

func (e *GoExtractor) ExtractImports(source string) []ImportInfo {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "", source, 0)
	if err != nil {
		return nil
	}
	return e.extractImports(file)
}

func (e *GoExtractor) ExtractCalls(source string) []CallInfo {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "", source, 0)
	if err != nil {
		return nil
	}
	return e.extractCalls(fset, file)
}

func (e *GoExtractor) extractFunctions(fset *token.FileSet, file *ast.File) []FunctionInfo {
	var out []FunctionInfo
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok {
			continue
		}
		start := fset.Position(fn.Pos())
		end := fset.Position(fn.End())

		containingType := ""
		if fn.Recv != nil && len(fn.Recv.List) > 0 {
			containingType = exprString(fn.Recv.List[0].Type)
		}

		out = append(out, FunctionInfo{
			Name:            fn.Name.Name,
			Signature:       signatureString(fn),
			FilePath:        start.Filename,
			StartLine:       start.Line,
			EndLine:         end.Line,
			Docstring:       docText(fn.Doc),
			ContainingClass: containingType,
		})
	}
	return out
}

func (e *GoExtractor) extractClasses(fset *token.FileSet, file *ast.File) []ClassInfo {
	var out []ClassInfo
	methodsByType := map[string][]string{}
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv == nil || len(fn.Recv.List) == 0 {
			continue
		}
		t := strings.TrimPrefix(exprString(fn.Recv.List[0].Type), "*")
		methodsByType[t] = append(methodsByType[t], fn.Name.Name)
	}

	for _, decl := range file.Decls {
		gd, ok := decl.(*ast.GenDecl)
		if !ok || gd.Tok != token.TYPE {
			continue
		}
		for _, spec := range gd.Specs {
			ts, ok := spec.(*ast.TypeSpec)
			if !ok {
				continue
			}
			if _, isStruct := ts.Type.(*ast.StructType); !isStruct {
				if _, isIface := ts.Type.(*ast.InterfaceType); !isIface {
					continue
				}
			}
			start := fset.Position(ts.Pos())
			end := fset.Position(ts.End())
			out = append(out, ClassInfo{
				Name:      ts.Name.Name,
				FilePath:  start.Filename,
				StartLine: start.Line,
				EndLine:   end.Line,
				Docstring: docText(gd.Doc),
				Methods:   methodsByType[ts.Name.Name],
			})
		}
	}
	return out
}

func (e *GoExtractor) extractImports(file *ast.File) []ImportInfo {
	var out []ImportInfo
	for _, imp := range file.Imports {
		path := strings.Trim(imp.Path.Value, `"`)
		alias := ""
		if imp.Name != nil {
			alias = imp.Name.Name
		}
		out = append(out, ImportInfo{Path: path, Alias: alias})
	}
	return out
}

func (e *GoExtractor) extractCalls(fset *token.FileSet, file *ast.File) []CallInfo {
	var out []CallInfo
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Body == nil {
			continue
		}
		ast.Inspect(fn.Body, func(n ast.Node) bool {
			call, ok := n.(*ast.CallExpr)
			if !ok {
				return true
			}
			callee := exprString(call.Fun)
			if callee == "" {
				return true
			}
			out = append(out, CallInfo{
				Caller: fn.Name.Name,
				Callee: callee,
				Line:   fset.Position(call.Pos()).Line,
			})
			return true
		})
	}
	return out
}

func exprString(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + exprString(t.X)
	case *ast.SelectorExpr:
		return exprString(t.X) + "." + t.Sel.Name
	default:
		return ""
	}
}

func signatureString(fn *ast.FuncDecl) string {
	var b strings.Builder
	b.WriteString("func ")
	if fn.Recv != nil && len(fn.Recv.List) > 0 {
		b.WriteString("(")
		b.WriteString(exprString(fn.Recv.List[0].Type))
		b.WriteString(") ")
	}
	b.WriteString(fn.Name.Name)
	b.WriteString("(")
	if fn.Type.Params != nil {
		for i, p := range fn.Type.Params.List {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(exprString(p.Type))
		}
	}
	b.WriteString(")")
	return b.String()
}

func docText(g *ast.CommentGroup) string {
	if g == nil {
		return ""
	}
	return strings.TrimSpace(g.Text())
}
