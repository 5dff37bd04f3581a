package ast

import "golang.org/x/exp/slices"

// Option is a top-level `option "name" "value"` declaration.
type Option struct {
	Pos   Position
	Name  string
	Value string
}

// Include is a top-level `include "path"` declaration.
type Include struct {
	Pos      Position
	Filename string
}

// Plugin is a top-level `plugin "name" "config"` declaration.
type Plugin struct {
	Pos    Position
	Name   string
	Config string
}

// Pushtag / Poptag / Pushmeta / Popmeta implement the scoped-frame stacks
// described in the grammar: push appends, pop removes the rightmost
// matching entry. A mismatched pop is a no-op rather than an error.
type Pushtag struct {
	Pos Position
	Tag Tag
}

type Poptag struct {
	Pos Position
	Tag Tag
}

type Pushmeta struct {
	Pos   Position
	Key   string
	Value *MetadataValue
}

type Popmeta struct {
	Pos Position
	Key string
}

// directivePriority implements the fixed tiebreak order from §3.4: when two
// directives share a date, Open sorts before Commodity before Pad before
// Balance before Transaction before Note before Document before Event
// before Query before Price before Close before Custom. Pad must precede
// Balance so pad auto-adjustments are visible to the following assertion;
// Close sorts after Transaction so a close on day D still permits postings
// dated D.
func directivePriority(d Directive) int {
	switch d.(type) {
	case *Open:
		return 0
	case *Commodity:
		return 1
	case *Pad:
		return 2
	case *Balance:
		return 3
	case *Transaction:
		return 4
	case *Note:
		return 5
	case *Document:
		return 6
	case *Event:
		return 7
	case *Query:
		return 8
	case *Price:
		return 9
	case *Close:
		return 10
	case *Custom:
		return 11
	default:
		return 99
	}
}

// sourceOffset extracts the directive's byte offset for stable tiebreaking
// within a single (date, priority) tier.
func sourceOffset(d Directive) int {
	return d.Position().Offset
}

// Directives is a sortable list of Directive.
type Directives []Directive

// SortDirectives orders ds by (date, type priority, source offset) as
// required by §3.4. The sort is stable and a no-op if ds is already
// ordered, which matters for the loader's merge path where most of the
// input is typically already sorted.
func SortDirectives(ds Directives) {
	if isSorted(ds) {
		return
	}
	slices.SortStableFunc(ds, func(a, b Directive) int {
		ad, bd := a.GetDate(), b.GetDate()
		switch {
		case ad.Before(bd):
			return -1
		case bd.Before(ad):
			return 1
		}
		ap, bp := directivePriority(a), directivePriority(b)
		if ap != bp {
			return ap - bp
		}
		return sourceOffset(a) - sourceOffset(b)
	})
}

func isSorted(ds Directives) bool {
	for i := 1; i < len(ds); i++ {
		prev, cur := ds[i-1], ds[i]
		if cur.GetDate().Before(prev.GetDate()) {
			return false
		}
		if cur.GetDate().Time.Equal(prev.GetDate().Time) {
			pp, cp := directivePriority(prev), directivePriority(cur)
			if cp < pp || (cp == pp && sourceOffset(cur) < sourceOffset(prev)) {
				return false
			}
		}
	}
	return true
}

// AST is the root of a parsed (or loaded/merged) source file: the ordered
// directive stream plus the top-level declarations that apply to it.
type AST struct {
	Directives Directives
	Options    []*Option
	Includes   []*Include
	Plugins    []*Plugin

	Pushtags  []*Pushtag
	Poptags   []*Poptag
	Pushmetas []*Pushmeta
	Popmetas  []*Popmeta
}

// ApplyPushPopDirectives threads the pushtag/poptag/pushmeta/popmeta frames
// through the directive stream in source order. Tags apply only to
// Transactions; metadata applies to every directive kind but never
// overrides a key the directive already carries explicitly.
func ApplyPushPopDirectives(a *AST) {
	type positioned struct {
		offset int
		apply  func()
	}

	var activeTags []Tag
	var activeMeta []*Metadata

	events := make([]positioned, 0, len(a.Pushtags)+len(a.Poptags)+len(a.Pushmetas)+len(a.Popmetas)+len(a.Directives))

	for _, pt := range a.Pushtags {
		tag := pt.Tag
		events = append(events, positioned{pt.Pos.Offset, func() {
			activeTags = append(activeTags, tag)
		}})
	}
	for _, pt := range a.Poptags {
		tag := pt.Tag
		events = append(events, positioned{pt.Pos.Offset, func() {
			for i := len(activeTags) - 1; i >= 0; i-- {
				if activeTags[i] == tag {
					activeTags = append(activeTags[:i], activeTags[i+1:]...)
					break
				}
			}
		}})
	}
	for _, pm := range a.Pushmetas {
		key, val := pm.Key, pm.Value
		events = append(events, positioned{pm.Pos.Offset, func() {
			activeMeta = append(activeMeta, &Metadata{Key: key, Value: val})
		}})
	}
	for _, pm := range a.Popmetas {
		key := pm.Key
		events = append(events, positioned{pm.Pos.Offset, func() {
			for i := len(activeMeta) - 1; i >= 0; i-- {
				if activeMeta[i].Key == key {
					activeMeta = append(activeMeta[:i], activeMeta[i+1:]...)
					break
				}
			}
		}})
	}
	for _, d := range a.Directives {
		directive := d
		events = append(events, positioned{directive.Position().Offset, func() {
			if txn, ok := directive.(*Transaction); ok {
				txn.Tags = append(append([]Tag{}, activeTags...), txn.Tags...)
			}
			// Newest frame first, so the innermost push of a key wins.
			for i := len(activeMeta) - 1; i >= 0; i-- {
				directive.AddMetadata(&Metadata{Key: activeMeta[i].Key, Value: activeMeta[i].Value})
			}
		}})
	}

	slices.SortStableFunc(events, func(a, b positioned) int { return a.offset - b.offset })
	for _, e := range events {
		e.apply()
	}
}
