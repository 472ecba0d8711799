package analyzer

import (
	"go/ast"
	"go/constant"
	"go/types"
	"strings"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/inspector"
)

// stepKinds mirrors the step discriminators of the workflow package.
var stepKinds = []string{"navigate", "waitFor", "click", "extract"}

var Analyzer = &analysis.Analyzer{
	Name:     "stepswitch",
	Doc:      "Checks that switches over workflow step types are exhaustive",
	Run:      run,
	Requires: []*analysis.Analyzer{inspect.Analyzer},
}

func run(pass *analysis.Pass) (interface{}, error) {
	inspector := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)

	nodeFilter := []ast.Node{(*ast.SwitchStmt)(nil)}

	inspector.Preorder(nodeFilter, func(node ast.Node) {
		sw := node.(*ast.SwitchStmt)

		if sw.Tag == nil {
			return
		}

		tagType := pass.TypesInfo.TypeOf(sw.Tag)
		if tagType == nil || !isStepType(tagType) {
			return
		}

		covered := map[string]bool{}
		hasDefault := false

		for _, stmt := range sw.Body.List {
			clause, ok := stmt.(*ast.CaseClause)
			if !ok {
				continue
			}

			// A default clause handles everything, including kinds
			// added later.
			if clause.List == nil {
				hasDefault = true
				continue
			}

			for _, expr := range clause.List {
				tv, ok := pass.TypesInfo.Types[expr]
				if !ok || tv.Value == nil || tv.Value.Kind() != constant.String {
					continue
				}

				covered[constant.StringVal(tv.Value)] = true
			}
		}

		if hasDefault {
			return
		}

		var missing []string
		for _, kind := range stepKinds {
			if !covered[kind] {
				missing = append(missing, kind)
			}
		}

		if len(missing) > 0 {
			pass.Reportf(sw.Pos(), "switch over step type is missing cases: %s", strings.Join(missing, ", "))
		}
	})

	return nil, nil
}

func isStepType(t types.Type) bool {
	named, ok := t.(*types.Named)
	if !ok {
		return false
	}

	obj := named.Obj()

	return obj.Name() == "StepType" && obj.Pkg() != nil && obj.Pkg().Name() == "workflow"
}
