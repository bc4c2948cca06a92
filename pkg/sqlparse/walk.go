package sqlparse

// Walk traverses an AST depth-first and calls fn for each node.
// If fn returns false, traversal stops below that node.
func Walk(node any, fn func(node any) bool) {
	if node == nil {
		return
	}
	if !fn(node) {
		return
	}
	walkNode(node, fn)
}

func walkNode(node any, fn func(node any) bool) {
	switch n := node.(type) {
	case *Statement:
		if n == nil {
			return
		}
		Walk(n.With, fn)
		Walk(n.Body, fn)
		for _, item := range n.OrderBy {
			Walk(item.Expr, fn)
		}
		Walk(n.Limit, fn)
		Walk(n.Offset, fn)

	case *WithClause:
		if n == nil {
			return
		}
		for _, cte := range n.CTEs {
			Walk(cte, fn)
		}

	case *CTE:
		if n == nil {
			return
		}
		Walk(n.Select, fn)

	case *SelectBody:
		if n == nil {
			return
		}
		Walk(n.Left, fn)
		Walk(n.Right, fn)

	case *SelectCore:
		if n == nil {
			return
		}
		for _, item := range n.Items {
			Walk(item.Expr, fn)
		}
		Walk(n.From, fn)
		Walk(n.Where, fn)
		for _, expr := range n.GroupBy {
			Walk(expr, fn)
		}
		Walk(n.Having, fn)

	case *Join:
		if n == nil {
			return
		}
		Walk(n.Left, fn)
		Walk(n.Right, fn)
		Walk(n.On, fn)

	case *TableName:
		// Leaf node

	case *DerivedTable:
		if n == nil {
			return
		}
		Walk(n.Select, fn)

	case *BinaryExpr:
		if n == nil {
			return
		}
		Walk(n.Left, fn)
		Walk(n.Right, fn)

	case *UnaryExpr:
		if n == nil {
			return
		}
		Walk(n.Expr, fn)

	case *FuncCall:
		if n == nil {
			return
		}
		for _, arg := range n.Args {
			Walk(arg, fn)
		}
		if n.Over != nil {
			for _, expr := range n.Over.PartitionBy {
				Walk(expr, fn)
			}
			for _, item := range n.Over.OrderBy {
				Walk(item.Expr, fn)
			}
		}

	case *CaseExpr:
		if n == nil {
			return
		}
		Walk(n.Operand, fn)
		for _, when := range n.Whens {
			Walk(when.Cond, fn)
			Walk(when.Then, fn)
		}
		Walk(n.Else, fn)

	case *CastExpr:
		if n == nil {
			return
		}
		Walk(n.Expr, fn)

	case *InExpr:
		if n == nil {
			return
		}
		Walk(n.Expr, fn)
		for _, v := range n.List {
			Walk(v, fn)
		}
		Walk(n.Select, fn)

	case *BetweenExpr:
		if n == nil {
			return
		}
		Walk(n.Expr, fn)
		Walk(n.Low, fn)
		Walk(n.High, fn)

	case *IsNullExpr:
		if n == nil {
			return
		}
		Walk(n.Expr, fn)

	case *LikeExpr:
		if n == nil {
			return
		}
		Walk(n.Expr, fn)
		Walk(n.Pattern, fn)
		Walk(n.Escape, fn)

	case *ParenExpr:
		if n == nil {
			return
		}
		Walk(n.Expr, fn)

	case *SubqueryExpr:
		if n == nil {
			return
		}
		Walk(n.Select, fn)

	case *ExistsExpr:
		if n == nil {
			return
		}
		Walk(n.Select, fn)

	// Leaf nodes
	case *ColumnRef, *Literal:
	}
}

// CollectFuncCalls returns all function calls in a statement.
func CollectFuncCalls(stmt *Statement) []*FuncCall {
	var funcs []*FuncCall
	Walk(stmt, func(node any) bool {
		if fc, ok := node.(*FuncCall); ok {
			funcs = append(funcs, fc)
		}
		return true
	})
	return funcs
}

// CollectColumnRefs returns all column references in a statement.
func CollectColumnRefs(stmt *Statement) []*ColumnRef {
	var refs []*ColumnRef
	Walk(stmt, func(node any) bool {
		if cr, ok := node.(*ColumnRef); ok {
			refs = append(refs, cr)
		}
		return true
	})
	return refs
}

// CollectSelectCores returns all SelectCore nodes in a statement,
// including those inside CTEs and subqueries.
func CollectSelectCores(stmt *Statement) []*SelectCore {
	var cores []*SelectCore
	Walk(stmt, func(node any) bool {
		if sc, ok := node.(*SelectCore); ok {
			cores = append(cores, sc)
		}
		return true
	})
	return cores
}

// CollectCTENames returns the names of all CTEs defined anywhere in a
// statement, including nested WITH clauses.
func CollectCTENames(stmt *Statement) []string {
	var names []string
	Walk(stmt, func(node any) bool {
		if cte, ok := node.(*CTE); ok {
			names = append(names, cte.Name)
		}
		return true
	})
	return names
}
