package dom

// Expr is an expression node.
type Expr interface {
	Pos() int
}

// IdExpr is a (possibly qualified) name used as an expression.
type IdExpr struct {
	Offset int
	Name   *QName
}

// LitKind classifies literals.
type LitKind int

const (
	LitInt LitKind = iota
	LitChar
	LitBool
	LitFloat
	LitString
	LitNullptr
)

type Literal struct {
	Offset int
	Kind   LitKind
	Text   string
}

type Unary struct {
	Offset  int
	Op      string
	X       Expr
	Postfix bool
}

type Binary struct {
	Offset int
	Op     string
	X, Y   Expr
}

// Assign covers `=` and compound assignments.
type Assign struct {
	Offset int
	Op     string
	LHS    Expr
	RHS    Expr
}

type Cond struct {
	Offset  int
	C, T, F Expr
}

type Call struct {
	Offset int
	Fn     Expr
	Args   []Expr
}

// Member is `x.m` or `p->m`.
type Member struct {
	Offset int
	X      Expr
	Arrow  bool
	Name   *QName
}

type Index struct {
	Offset int
	X, I   Expr
}

type Cast struct {
	Offset int
	Type   *TypeID
	X      Expr
}

// Sizeof is `sizeof(type)` when Type is set, `sizeof expr` otherwise.
type Sizeof struct {
	Offset int
	Type   *TypeID
	X      Expr
}

type New struct {
	Offset int
	Type   *TypeID
	Args   []Expr
}

type Delete struct {
	Offset int
	X      Expr
}

type This struct {
	Offset int
}

type InitList struct {
	Offset int
	Elems  []Expr
}

type Paren struct {
	Offset int
	X      Expr
}

// Construct is a functional cast or temporary `T(args)`.
type Construct struct {
	Offset int
	Type   *TypeID
	Args   []Expr
}

// OpaqueExpr wraps sub-expressions of forms the parser does not model.
type OpaqueExpr struct {
	Offset int
	Exprs  []Expr
}

func (e *IdExpr) Pos() int     { return e.Offset }
func (e *Literal) Pos() int    { return e.Offset }
func (e *Unary) Pos() int      { return e.Offset }
func (e *Binary) Pos() int     { return e.Offset }
func (e *Assign) Pos() int     { return e.Offset }
func (e *Cond) Pos() int       { return e.Offset }
func (e *Call) Pos() int       { return e.Offset }
func (e *Member) Pos() int     { return e.Offset }
func (e *Index) Pos() int      { return e.Offset }
func (e *Cast) Pos() int       { return e.Offset }
func (e *Sizeof) Pos() int     { return e.Offset }
func (e *New) Pos() int        { return e.Offset }
func (e *Delete) Pos() int     { return e.Offset }
func (e *This) Pos() int       { return e.Offset }
func (e *InitList) Pos() int   { return e.Offset }
func (e *Paren) Pos() int      { return e.Offset }
func (e *Construct) Pos() int  { return e.Offset }
func (e *OpaqueExpr) Pos() int { return e.Offset }

// Stmt is a statement node.
type Stmt interface {
	Pos() int
}

// Block is a compound statement and opens a block scope.
type Block struct {
	Offset int
	Stmts  []Stmt
}

type ExprStmt struct {
	Offset int
	X      Expr
}

type DeclStmt struct {
	Offset int
	Decl   Decl
}

type Return struct {
	Offset int
	X      Expr
}

// Control covers if, while, for, do, switch and case labels. It opens a
// block scope holding Init and any condition declaration.
type Control struct {
	Offset int
	Kind   string
	Init   Stmt
	Cond   Expr
	// CondDecl is a condition declaration such as `if (int x = f())`.
	CondDecl *SimpleDecl
	Step     Expr
	Body     []Stmt
}

func (s *Block) Pos() int    { return s.Offset }
func (s *ExprStmt) Pos() int { return s.Offset }
func (s *DeclStmt) Pos() int { return s.Offset }
func (s *Return) Pos() int   { return s.Offset }
func (s *Control) Pos() int  { return s.Offset }
