package loader

import (
	"sync"

	"github.com/ledgerforge/rledger/ast"
	"github.com/ledgerforge/rledger/intern"
)

// sharedInterner is the process-wide pool every loaded AST's account and
// currency strings are folded into, including ASTs restored from the
// binary cache, whose strings arrive as fresh allocations from CBOR
// decoding and would otherwise never compare pointer-equal to a
// freshly-parsed file's strings.
var (
	sharedInternerOnce sync.Once
	sharedInterner     *intern.Interner
)

func getSharedInterner() *intern.Interner {
	sharedInternerOnce.Do(func() {
		sharedInterner = intern.New(4096)
	})
	return sharedInterner
}

// reinternAST rewrites every Account and currency string in tree through
// the shared interner in place.
func reinternAST(tree *ast.AST) {
	in := getSharedInterner()
	for _, d := range tree.Directives {
		switch v := d.(type) {
		case *ast.Transaction:
			for _, p := range v.Postings {
				reinternPosting(in, p)
			}
		case *ast.Balance:
			v.Account = ast.Account(in.Intern(string(v.Account)))
			if v.Amount != nil {
				v.Amount.Currency = in.Intern(v.Amount.Currency)
			}
		case *ast.Open:
			v.Account = ast.Account(in.Intern(string(v.Account)))
			for i, c := range v.ConstraintCurrencies {
				v.ConstraintCurrencies[i] = in.Intern(c)
			}
		case *ast.Close:
			v.Account = ast.Account(in.Intern(string(v.Account)))
		case *ast.Commodity:
			v.Currency = in.Intern(v.Currency)
		case *ast.Pad:
			v.Account = ast.Account(in.Intern(string(v.Account)))
			v.AccountPad = ast.Account(in.Intern(string(v.AccountPad)))
		case *ast.Note:
			v.Account = ast.Account(in.Intern(string(v.Account)))
		case *ast.Document:
			v.Account = ast.Account(in.Intern(string(v.Account)))
		case *ast.Price:
			v.Currency = in.Intern(v.Currency)
			if v.Amount != nil {
				v.Amount.Currency = in.Intern(v.Amount.Currency)
			}
		case *ast.Custom:
			for _, cv := range v.Values {
				if cv.Kind == ast.MetaAccount {
					cv.Account = ast.Account(in.Intern(string(cv.Account)))
				}
			}
		}
		for _, m := range d.Metadata() {
			reinternMetaValue(in, m.Value)
		}
	}
}

func reinternPosting(in *intern.Interner, p *ast.Posting) {
	p.Account = ast.Account(in.Intern(string(p.Account)))
	if p.Units != nil {
		p.Units.Currency = in.Intern(p.Units.Currency)
	}
	if p.CostSpec != nil {
		p.CostSpec.Currency = in.Intern(p.CostSpec.Currency)
	}
	if p.Price != nil {
		p.Price.Currency = in.Intern(p.Price.Currency)
	}
	for _, m := range p.Metadata() {
		reinternMetaValue(in, m.Value)
	}
}

func reinternMetaValue(in *intern.Interner, v *ast.MetadataValue) {
	if v == nil {
		return
	}
	switch v.Kind {
	case ast.MetaAccount:
		v.Account = ast.Account(in.Intern(string(v.Account)))
	case ast.MetaCurrency:
		v.Currency = in.Intern(v.Currency)
	case ast.MetaAmount:
		if v.Amount != nil {
			v.Amount.Currency = in.Intern(v.Amount.Currency)
		}
	}
}
