package loader

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/shopspring/decimal"

	"github.com/ledgerforge/rledger/ast"
)

// MarshalDirectives encodes a bare directive stream in the same
// schema-stable wire format the binary cache payload uses. The plugin
// host serializes the stream with this before handing it to a sandboxed
// transformer.
func MarshalDirectives(ds ast.Directives) ([]byte, error) {
	return cbor.Marshal(toWireAST(&ast.AST{Directives: ds}))
}

// UnmarshalDirectives decodes a directive stream produced by
// MarshalDirectives (or by a plugin emitting the same schema).
func UnmarshalDirectives(data []byte) (ast.Directives, error) {
	var w wireAST
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return w.toAST().Directives, nil
}

// wireAST is the CBOR-serializable mirror of ast.AST used by the binary
// cache. ast.Directive is a closed interface over twelve concrete structs;
// rather than teach cbor a custom interface codec, directives are
// flattened into a single tagged-union struct (wireDirective) carrying
// every field any kind might need, with Kind as the discriminant.
type wireAST struct {
	Directives []wireDirective
	Options    []wireOption
	Includes   []wireInclude
	Plugins    []wirePlugin
}

type wireOption struct{ Name, Value string }
type wireInclude struct{ Filename string }
type wirePlugin struct{ Name, Config string }

type wireMetadata struct {
	Key   string
	Value wireMetaValue
}

type wireMetaValue struct {
	Kind     uint8
	String   string
	Account  string
	Currency string
	Tag      string
	Link     string
	Date     string
	Number   string
	Bool     bool
	AmountN  string
	AmountC  string
	HasDate  bool
	HasAmt   bool
}

type wirePosting struct {
	Flag          string
	Account       string
	UnitsKind     uint8
	UnitsNumber   string
	UnitsCurrency string
	HasCost       bool
	CostNumberPer string
	CostNumberTot string
	CostCurrency  string
	CostDate      string
	CostLabel     string
	CostMerge     bool
	CostEmpty     bool
	PriceTotal    bool
	HasPrice      bool
	PriceKind     uint8
	PriceNumber   string
	PriceCurrency string
	Metadata      []wireMetadata
}

type wireDirective struct {
	Kind      string
	Filename  string
	Offset    int
	Line      int
	Column    int
	Date      string
	Flag      string
	Payee     string
	Narration string
	Tags      []string
	Links     []string
	Postings  []wirePosting

	Account              string
	AccountPad           string
	ConstraintCurrencies []string
	BookingMethod        string

	Currency string
	AmountN  string
	AmountC  string
	HasTol   bool
	Tol      string

	Name  string
	Value string
	Query string

	Comment string
	Path    string

	CType  string
	CVals  []wireMetaValue

	Metadata []wireMetadata
}

func dateString(d *ast.Date) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func parseDate(s string) *ast.Date {
	if s == "" {
		return nil
	}
	d, err := ast.NewDate(s)
	if err != nil {
		return nil
	}
	return d
}

func decString(d decimal.Decimal) string { return d.String() }

func parseDec(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func toWireMeta(meta []*ast.Metadata) []wireMetadata {
	out := make([]wireMetadata, 0, len(meta))
	for _, m := range meta {
		v := wireMetaValue{Kind: uint8(m.Value.Kind)}
		switch m.Value.Kind {
		case ast.MetaString:
			v.String = m.Value.String
		case ast.MetaAccount:
			v.Account = string(m.Value.Account)
		case ast.MetaCurrency:
			v.Currency = m.Value.Currency
		case ast.MetaTag:
			v.Tag = string(m.Value.Tag)
		case ast.MetaLink:
			v.Link = string(m.Value.Link)
		case ast.MetaDate:
			v.HasDate = true
			v.Date = dateString(m.Value.Date)
		case ast.MetaNumber:
			v.Number = decString(m.Value.Number)
		case ast.MetaBool:
			v.Bool = m.Value.Bool
		case ast.MetaAmount:
			v.HasAmt = true
			if m.Value.Amount != nil {
				v.AmountN = decString(m.Value.Amount.Number)
				v.AmountC = m.Value.Amount.Currency
			}
		}
		out = append(out, wireMetadata{Key: m.Key, Value: v})
	}
	return out
}

func fromWireMeta(wm []wireMetadata) []*ast.Metadata {
	out := make([]*ast.Metadata, 0, len(wm))
	for _, w := range wm {
		v := &ast.MetadataValue{Kind: ast.MetadataValueKind(w.Value.Kind)}
		switch v.Kind {
		case ast.MetaString:
			v.String = w.Value.String
		case ast.MetaAccount:
			v.Account = ast.Account(w.Value.Account)
		case ast.MetaCurrency:
			v.Currency = w.Value.Currency
		case ast.MetaTag:
			v.Tag = ast.Tag(w.Value.Tag)
		case ast.MetaLink:
			v.Link = ast.Link(w.Value.Link)
		case ast.MetaDate:
			v.Date = parseDate(w.Value.Date)
		case ast.MetaNumber:
			v.Number = parseDec(w.Value.Number)
		case ast.MetaBool:
			v.Bool = w.Value.Bool
		case ast.MetaAmount:
			if w.Value.HasAmt {
				n := parseDec(w.Value.AmountN)
				v.Amount = &ast.Amount{Number: n, Currency: w.Value.AmountC}
			}
		}
		out = append(out, &ast.Metadata{Key: w.Key, Value: v})
	}
	return out
}

func toWirePosting(p *ast.Posting) wirePosting {
	wp := wirePosting{
		Flag:    p.Flag,
		Account: string(p.Account),
		Metadata: toWireMeta(p.Metadata()),
	}
	if p.Units != nil {
		wp.UnitsKind = uint8(p.Units.Kind)
		wp.UnitsNumber = decString(p.Units.Number)
		wp.UnitsCurrency = p.Units.Currency
	}
	if p.CostSpec != nil {
		wp.HasCost = true
		if p.CostSpec.NumberPer != nil {
			wp.CostNumberPer = decString(*p.CostSpec.NumberPer)
		}
		if p.CostSpec.NumberTotal != nil {
			wp.CostNumberTot = decString(*p.CostSpec.NumberTotal)
		}
		wp.CostCurrency = p.CostSpec.Currency
		wp.CostDate = dateString(p.CostSpec.Date)
		wp.CostLabel = p.CostSpec.Label
		wp.CostMerge = p.CostSpec.Merge
		wp.CostEmpty = p.CostSpec.Empty
	}
	wp.PriceTotal = p.PriceTotal
	if p.Price != nil {
		wp.HasPrice = true
		wp.PriceKind = uint8(p.Price.Kind)
		wp.PriceNumber = decString(p.Price.Number)
		wp.PriceCurrency = p.Price.Currency
	}
	return wp
}

func fromWirePosting(wp wirePosting) *ast.Posting {
	p := &ast.Posting{
		Flag:    wp.Flag,
		Account: ast.Account(wp.Account),
		Units: &ast.IncompleteAmount{
			Kind:     ast.IncompleteAmountKind(wp.UnitsKind),
			Number:   parseDec(wp.UnitsNumber),
			Currency: wp.UnitsCurrency,
		},
	}
	if wp.HasCost {
		cs := &ast.CostSpec{
			Currency: wp.CostCurrency,
			Date:     parseDate(wp.CostDate),
			Label:    wp.CostLabel,
			Merge:    wp.CostMerge,
			Empty:    wp.CostEmpty,
		}
		if wp.CostNumberPer != "" {
			n := parseDec(wp.CostNumberPer)
			cs.NumberPer = &n
		}
		if wp.CostNumberTot != "" {
			n := parseDec(wp.CostNumberTot)
			cs.NumberTotal = &n
		}
		p.CostSpec = cs
	}
	p.PriceTotal = wp.PriceTotal
	if wp.HasPrice {
		p.Price = &ast.IncompleteAmount{
			Kind:     ast.IncompleteAmountKind(wp.PriceKind),
			Number:   parseDec(wp.PriceNumber),
			Currency: wp.PriceCurrency,
		}
	}
	p.AddMetadata(fromWireMeta(wp.Metadata)...)
	return p
}

func toWireAST(a *ast.AST) *wireAST {
	w := &wireAST{}
	for _, opt := range a.Options {
		w.Options = append(w.Options, wireOption{Name: opt.Name, Value: opt.Value})
	}
	for _, inc := range a.Includes {
		w.Includes = append(w.Includes, wireInclude{Filename: inc.Filename})
	}
	for _, pl := range a.Plugins {
		w.Plugins = append(w.Plugins, wirePlugin{Name: pl.Name, Config: pl.Config})
	}
	for _, d := range a.Directives {
		wd := wireDirective{
			Kind:     d.Kind(),
			Filename: d.Position().Filename,
			Offset:   d.Position().Offset,
			Line:     d.Position().Line,
			Column:   d.Position().Column,
			Date:     dateString(d.GetDate()),
			Metadata: toWireMeta(d.Metadata()),
		}
		switch v := d.(type) {
		case *ast.Transaction:
			wd.Flag, wd.Payee, wd.Narration = v.Flag, v.Payee, v.Narration
			for _, t := range v.Tags {
				wd.Tags = append(wd.Tags, string(t))
			}
			for _, l := range v.Links {
				wd.Links = append(wd.Links, string(l))
			}
			for _, p := range v.Postings {
				wd.Postings = append(wd.Postings, toWirePosting(p))
			}
		case *ast.Balance:
			wd.Account = string(v.Account)
			if v.Amount != nil {
				wd.AmountN, wd.AmountC = decString(v.Amount.Number), v.Amount.Currency
			}
			if v.Tolerance != nil {
				wd.HasTol, wd.Tol = true, decString(*v.Tolerance)
			}
		case *ast.Open:
			wd.Account = string(v.Account)
			wd.ConstraintCurrencies = v.ConstraintCurrencies
			wd.BookingMethod = v.BookingMethod
		case *ast.Close:
			wd.Account = string(v.Account)
		case *ast.Commodity:
			wd.Currency = v.Currency
		case *ast.Pad:
			wd.Account, wd.AccountPad = string(v.Account), string(v.AccountPad)
		case *ast.Event:
			wd.Name, wd.Value = v.Name, v.Value
		case *ast.Query:
			wd.Name, wd.Query = v.Name, v.Query
		case *ast.Note:
			wd.Account, wd.Comment = string(v.Account), v.Comment
		case *ast.Document:
			wd.Account, wd.Path = string(v.Account), v.Path
			for _, t := range v.Tags {
				wd.Tags = append(wd.Tags, string(t))
			}
			for _, l := range v.Links {
				wd.Links = append(wd.Links, string(l))
			}
		case *ast.Price:
			wd.Currency = v.Currency
			if v.Amount != nil {
				wd.AmountN, wd.AmountC = decString(v.Amount.Number), v.Amount.Currency
			}
		case *ast.Custom:
			wd.CType = v.Type
			for _, cv := range v.Values {
				mv := wireMetaValue{Kind: uint8(cv.Kind)}
				switch cv.Kind {
				case ast.MetaString:
					mv.String = cv.String
				case ast.MetaAccount:
					mv.Account = string(cv.Account)
				case ast.MetaDate:
					mv.HasDate, mv.Date = true, dateString(cv.Date)
				case ast.MetaNumber:
					mv.Number = decString(cv.Number)
				case ast.MetaBool:
					mv.Bool = cv.Bool
				case ast.MetaAmount:
					if cv.Amount != nil {
						mv.HasAmt, mv.AmountN, mv.AmountC = true, decString(cv.Amount.Number), cv.Amount.Currency
					}
				}
				wd.CVals = append(wd.CVals, mv)
			}
		}
		w.Directives = append(w.Directives, wd)
	}
	return w
}

func (w *wireAST) toAST() *ast.AST {
	a := &ast.AST{}
	for _, o := range w.Options {
		a.Options = append(a.Options, &ast.Option{Name: o.Name, Value: o.Value})
	}
	for _, i := range w.Includes {
		a.Includes = append(a.Includes, &ast.Include{Filename: i.Filename})
	}
	for _, pl := range w.Plugins {
		a.Plugins = append(a.Plugins, &ast.Plugin{Name: pl.Name, Config: pl.Config})
	}
	for _, wd := range w.Directives {
		pos := ast.Position{Filename: wd.Filename, Offset: wd.Offset, Line: wd.Line, Column: wd.Column}
		date := parseDate(wd.Date)
		var d ast.Directive
		switch wd.Kind {
		case "transaction":
			txn := &ast.Transaction{Pos: pos, Date: date, Flag: wd.Flag, Payee: wd.Payee, Narration: wd.Narration}
			for _, t := range wd.Tags {
				txn.Tags = append(txn.Tags, ast.Tag(t))
			}
			for _, l := range wd.Links {
				txn.Links = append(txn.Links, ast.Link(l))
			}
			for _, wp := range wd.Postings {
				txn.Postings = append(txn.Postings, fromWirePosting(wp))
			}
			d = txn
		case "balance":
			b := &ast.Balance{Pos: pos, Date: date, Account: ast.Account(wd.Account)}
			if wd.AmountC != "" {
				b.Amount = &ast.Amount{Number: parseDec(wd.AmountN), Currency: wd.AmountC}
			}
			if wd.HasTol {
				t := parseDec(wd.Tol)
				b.Tolerance = &t
			}
			d = b
		case "open":
			d = &ast.Open{Pos: pos, Date: date, Account: ast.Account(wd.Account),
				ConstraintCurrencies: wd.ConstraintCurrencies, BookingMethod: wd.BookingMethod}
		case "close":
			d = &ast.Close{Pos: pos, Date: date, Account: ast.Account(wd.Account)}
		case "commodity":
			d = &ast.Commodity{Pos: pos, Date: date, Currency: wd.Currency}
		case "pad":
			d = &ast.Pad{Pos: pos, Date: date, Account: ast.Account(wd.Account), AccountPad: ast.Account(wd.AccountPad)}
		case "event":
			d = &ast.Event{Pos: pos, Date: date, Name: wd.Name, Value: wd.Value}
		case "query":
			d = &ast.Query{Pos: pos, Date: date, Name: wd.Name, Query: wd.Query}
		case "note":
			d = &ast.Note{Pos: pos, Date: date, Account: ast.Account(wd.Account), Comment: wd.Comment}
		case "document":
			doc := &ast.Document{Pos: pos, Date: date, Account: ast.Account(wd.Account), Path: wd.Path}
			for _, t := range wd.Tags {
				doc.Tags = append(doc.Tags, ast.Tag(t))
			}
			for _, l := range wd.Links {
				doc.Links = append(doc.Links, ast.Link(l))
			}
			d = doc
		case "price":
			p := &ast.Price{Pos: pos, Date: date, Currency: wd.Currency}
			if wd.AmountC != "" {
				p.Amount = &ast.Amount{Number: parseDec(wd.AmountN), Currency: wd.AmountC}
			}
			d = p
		case "custom":
			c := &ast.Custom{Pos: pos, Date: date, Type: wd.CType}
			for _, mv := range wd.CVals {
				cv := &ast.CustomValue{Kind: ast.MetadataValueKind(mv.Kind)}
				switch cv.Kind {
				case ast.MetaString:
					cv.String = mv.String
				case ast.MetaAccount:
					cv.Account = ast.Account(mv.Account)
				case ast.MetaDate:
					cv.Date = parseDate(mv.Date)
				case ast.MetaNumber:
					cv.Number = parseDec(mv.Number)
				case ast.MetaBool:
					cv.Bool = mv.Bool
				case ast.MetaAmount:
					if mv.HasAmt {
						cv.Amount = &ast.Amount{Number: parseDec(mv.AmountN), Currency: mv.AmountC}
					}
				}
				c.Values = append(c.Values, cv)
			}
			d = c
		default:
			continue
		}
		d.AddMetadata(fromWireMeta(wd.Metadata)...)
		a.Directives = append(a.Directives, d)
	}
	return a
}
