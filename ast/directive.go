package ast

// Directive is implemented by all twelve directive kinds. The set is
// closed and every consumer (sorting, validation dispatch, formatting)
// switches over it exhaustively, so a single interface plus a type switch
// is preferable to a registry of handler objects.
type Directive interface {
	Position() Position
	GetDate() *Date
	Kind() string
	WithMetadata
}

// WithMetadata is implemented by every directive and every Posting.
// AddMetadata never overrides a key that is already present, matching the
// pushmeta/popmeta stacking rule: explicit metadata on the directive always
// wins over metadata pushed from an enclosing pushmeta frame.
type WithMetadata interface {
	Metadata() []*Metadata
	AddMetadata(entries ...*Metadata)
}

type withMetadata struct {
	meta []*Metadata
}

func (m *withMetadata) Metadata() []*Metadata { return m.meta }

func (m *withMetadata) AddMetadata(entries ...*Metadata) {
	existing := make(map[string]bool, len(m.meta))
	for _, e := range m.meta {
		existing[e.Key] = true
	}
	for _, e := range entries {
		if existing[e.Key] {
			continue
		}
		m.meta = append(m.meta, e)
		existing[e.Key] = true
	}
}

// Transaction records a double-entry financial transaction.
type Transaction struct {
	Pos       Position
	Date      *Date
	Flag      string // "*" cleared, "!" pending, "P" synthesized by padding
	Payee     string
	Narration string
	Tags      []Tag
	Links     []Link
	Postings  []*Posting

	withMetadata
}

func (t *Transaction) Position() Position { return t.Pos }
func (t *Transaction) GetDate() *Date     { return t.Date }
func (t *Transaction) Kind() string       { return "transaction" }

// Posting is a single leg of a Transaction.
type Posting struct {
	Pos        Position
	Flag       string
	Account    Account
	Units      *IncompleteAmount
	CostSpec   *CostSpec
	PriceTotal bool // @@ (total) vs @ (per-unit)
	Price      *IncompleteAmount

	withMetadata
}

// Balance asserts an account's inventory total in one currency.
type Balance struct {
	Pos       Position
	Date      *Date
	Account   Account
	Amount    *Amount
	Tolerance *Decimal // explicit tolerance override, nil if unset

	withMetadata
}

func (b *Balance) Position() Position { return b.Pos }
func (b *Balance) GetDate() *Date     { return b.Date }
func (b *Balance) Kind() string       { return "balance" }

// Open declares an account's valid date range start, and optionally
// restricts its currencies and booking method.
type Open struct {
	Pos                  Position
	Date                 *Date
	Account              Account
	ConstraintCurrencies []string
	BookingMethod        string // empty means inherit the file default

	withMetadata
}

func (o *Open) Position() Position { return o.Pos }
func (o *Open) GetDate() *Date     { return o.Date }
func (o *Open) Kind() string       { return "open" }

// Close declares the end of an account's valid date range.
type Close struct {
	Pos     Position
	Date    *Date
	Account Account

	withMetadata
}

func (c *Close) Position() Position { return c.Pos }
func (c *Close) GetDate() *Date     { return c.Date }
func (c *Close) Kind() string       { return "close" }

// Commodity declares a currency, primarily as a place to hang metadata.
type Commodity struct {
	Pos      Position
	Date     *Date
	Currency string

	withMetadata
}

func (c *Commodity) Position() Position { return c.Pos }
func (c *Commodity) GetDate() *Date     { return c.Date }
func (c *Commodity) Kind() string       { return "commodity" }

// Pad requests that the validator synthesize a balancing transaction
// between Account and AccountPad immediately before the next Balance on
// Account.
type Pad struct {
	Pos        Position
	Date       *Date
	Account    Account
	AccountPad Account

	withMetadata
}

func (p *Pad) Position() Position { return p.Pos }
func (p *Pad) GetDate() *Date     { return p.Date }
func (p *Pad) Kind() string       { return "pad" }

// Event records a change in the value of a named event type (e.g. "location").
type Event struct {
	Pos   Position
	Date  *Date
	Name  string
	Value string

	withMetadata
}

func (e *Event) Position() Position { return e.Pos }
func (e *Event) GetDate() *Date     { return e.Date }
func (e *Event) Kind() string       { return "event" }

// Query registers a named BQL query body for later execution.
type Query struct {
	Pos   Position
	Date  *Date
	Name  string
	Query string

	withMetadata
}

func (q *Query) Position() Position { return q.Pos }
func (q *Query) GetDate() *Date     { return q.Date }
func (q *Query) Kind() string       { return "query" }

// Note attaches a free-form comment to an account on a given date.
type Note struct {
	Pos     Position
	Date    *Date
	Account Account
	Comment string

	withMetadata
}

func (n *Note) Position() Position { return n.Pos }
func (n *Note) GetDate() *Date     { return n.Date }
func (n *Note) Kind() string       { return "note" }

// Document links an external file to an account.
type Document struct {
	Pos     Position
	Date    *Date
	Account Account
	Path    string
	Tags    []Tag
	Links   []Link

	withMetadata
}

func (d *Document) Position() Position { return d.Pos }
func (d *Document) GetDate() *Date     { return d.Date }
func (d *Document) Kind() string       { return "document" }

// Price records an exchange rate observation: one unit of Currency is
// worth Amount.
type Price struct {
	Pos      Position
	Date     *Date
	Currency string
	Amount   *Amount

	withMetadata
}

func (p *Price) Position() Position { return p.Pos }
func (p *Price) GetDate() *Date     { return p.Date }
func (p *Price) Kind() string       { return "price" }

// CustomValue is one positional value in a Custom directive's argument list.
type CustomValue struct {
	Kind    MetadataValueKind
	String  string
	Account Account
	Amount  *Amount
	Bool    bool
	Date    *Date
	Number  Decimal
}

// Custom is an extensible, untyped directive for tool-specific annotations.
type Custom struct {
	Pos    Position
	Date   *Date
	Type   string
	Values []*CustomValue

	withMetadata
}

func (c *Custom) Position() Position { return c.Pos }
func (c *Custom) GetDate() *Date     { return c.Date }
func (c *Custom) Kind() string       { return "custom" }

var (
	_ Directive = (*Transaction)(nil)
	_ Directive = (*Balance)(nil)
	_ Directive = (*Open)(nil)
	_ Directive = (*Close)(nil)
	_ Directive = (*Commodity)(nil)
	_ Directive = (*Pad)(nil)
	_ Directive = (*Event)(nil)
	_ Directive = (*Query)(nil)
	_ Directive = (*Note)(nil)
	_ Directive = (*Document)(nil)
	_ Directive = (*Price)(nil)
	_ Directive = (*Custom)(nil)
)
