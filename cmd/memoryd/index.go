package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/memcore/memcore/internal/models"
	"github.com/memcore/memcore/internal/parser"
)

var indexRoot string

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Parse a source tree and persist component/function memories",
	Long: `index walks --root, feeds every recognised source file through
the parser orchestrator (C9), and persists one component memory per file
and one function memory per extracted function, linked by CONTAINS and
CALLS relationships.`,
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().StringVar(&indexRoot, "root", ".", "directory to walk for source files")
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := buildApp(ctx, debug)
	if err != nil {
		return err
	}
	defer a.Close()

	files, err := collectSourceFiles(indexRoot, a.parser)
	if err != nil {
		return fmt.Errorf("collect source files: %w", err)
	}
	if len(files) == 0 {
		fmt.Printf("no recognised source files under %s\n", indexRoot)
		return nil
	}

	results := a.parser.ParseFiles(files)

	var components, functions, failed int
	for _, result := range results {
		if len(result.Errors) > 0 {
			failed++
			for _, e := range result.Errors {
				fmt.Printf("  %s: %s\n", result.FilePath, e)
			}
			continue
		}

		componentMem := models.NewMemory(models.VariantComponent, result.FilePath, &models.ComponentAttrs{
			ComponentID:   result.FilePath,
			ComponentType: "file",
			Name:          filepath.Base(result.FilePath),
			FilePath:      result.FilePath,
		})
		if _, err := a.manager.Add(ctx, componentMem, nil, false); err != nil {
			fmt.Printf("  %s: add component memory: %v\n", result.FilePath, err)
			failed++
			continue
		}
		components++

		functionIDs := make(map[string]uuid.UUID, len(result.Functions))
		for _, fn := range result.Functions {
			fnMem := models.NewMemory(models.VariantFunction, fn.Signature, &models.FunctionAttrs{
				Name:            fn.Name,
				Signature:       fn.Signature,
				FilePath:        result.FilePath,
				StartLine:       fn.StartLine,
				EndLine:         fn.EndLine,
				Language:        result.Language,
				Docstring:       fn.Docstring,
				ContainingClass: fn.ContainingClass,
			})
			rel := models.NewRelationship(models.RelContains, componentMem.ID, fnMem.ID, models.VariantComponent, models.VariantFunction)
			if _, err := a.manager.Add(ctx, fnMem, []*models.Relationship{rel}, false); err != nil {
				fmt.Printf("  %s: add function memory %s: %v\n", result.FilePath, fn.Name, err)
				failed++
				continue
			}
			functionIDs[fn.Name] = fnMem.ID
			functions++
		}

		for _, call := range result.Calls {
			callerID, ok := functionIDs[call.Caller]
			if !ok {
				continue
			}
			calleeID, ok := functionIDs[call.Callee]
			if !ok {
				continue
			}
			rel := models.NewRelationship(models.RelCalls, callerID, calleeID, models.VariantFunction, models.VariantFunction)
			if err := a.manager.AddRelationship(ctx, rel); err != nil {
				fmt.Printf("  %s: link call %s->%s: %v\n", result.FilePath, call.Caller, call.Callee, err)
			}
		}
	}

	fmt.Printf("indexed %d components and %d functions across %d files, %d failures\n", components, functions, len(results), failed)
	return nil
}

// collectSourceFiles walks root for files the orchestrator's extension
// table recognises, skipping vendor/build directories that never hold
// hand-written source.
func collectSourceFiles(root string, o *parser.Orchestrator) (map[string]string, error) {
	files := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			switch d.Name() {
			case ".git", "vendor", "node_modules", "_examples":
				return filepath.SkipDir
			}
			return nil
		}
		if o.DetectLanguage(path) == "" {
			return nil
		}
		if strings.HasSuffix(path, "_test.go") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		files[path] = string(content)
		return nil
	})
	return files, err
}
