package binding

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// RefFunc maps a named type to the record id it is persisted under. The id
// may be a negative placeholder that the store rewrites on commit.
type RefFunc func(Binding) (int64, bool)

// LookupFunc materialises the binding persisted under id.
type LookupFunc func(id int64) (Binding, error)

var errUnencodable = errors.New("type not encodable")

// EncodeType serialises t for storage. Named types become "#<id>" tokens;
// typedefs are kept by reference so that they round-trip as typedefs.
func EncodeType(t Type, ref RefFunc) (string, error) {
	var sb strings.Builder
	if err := encodeType(&sb, t, ref); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func encodeType(sb *strings.Builder, t Type, ref RefFunc) error {
	switch x := t.(type) {
	case nil:
		sb.WriteString("?")
	case *Basic:
		fmt.Fprintf(sb, "b%d.%d", int(x.Kind), int(x.Mods))
	case *Pointer:
		sb.WriteString("p" + cvDigit(x.Const, x.Volatile) + "(")
		if err := encodeType(sb, x.Elem, ref); err != nil {
			return err
		}
		sb.WriteByte(')')
	case *Reference:
		if x.RValue {
			sb.WriteString("x(")
		} else {
			sb.WriteString("r(")
		}
		if err := encodeType(sb, x.Elem, ref); err != nil {
			return err
		}
		sb.WriteByte(')')
	case *Qualified:
		sb.WriteString("q" + cvDigit(x.Const, x.Volatile) + "(")
		if err := encodeType(sb, x.Elem, ref); err != nil {
			return err
		}
		sb.WriteByte(')')
	case *Array:
		sb.WriteString("a" + strconv.FormatInt(x.Size, 10) + "(")
		if err := encodeType(sb, x.Elem, ref); err != nil {
			return err
		}
		sb.WriteByte(')')
	case *FunctionType:
		sb.WriteString("f" + funcFlags(x) + "(")
		if err := encodeType(sb, x.Result, ref); err != nil {
			return err
		}
		for _, p := range x.Params {
			sb.WriteByte(';')
			if err := encodeType(sb, p, ref); err != nil {
				return err
			}
		}
		sb.WriteByte(')')
	case *MemberPointer:
		sb.WriteString("m(")
		if err := encodeType(sb, x.Class, ref); err != nil {
			return err
		}
		sb.WriteByte(';')
		if err := encodeType(sb, x.Elem, ref); err != nil {
			return err
		}
		sb.WriteByte(')')
	case *Problem:
		sb.WriteString("!" + strconv.Itoa(int(x.Code)))
	case Binding:
		id, ok := ref(x)
		if !ok {
			return fmt.Errorf("%w: %s", errUnencodable, QualifiedString(x))
		}
		sb.WriteString("#" + strconv.FormatInt(id, 10))
	default:
		return fmt.Errorf("%w: %T", errUnencodable, t)
	}
	return nil
}

// DecodeType parses the output of EncodeType.
func DecodeType(s string, lookup LookupFunc) (Type, error) {
	d := &decoder{s: s, lookup: lookup}
	t, err := d.typ()
	if err != nil {
		return nil, fmt.Errorf("decode type %q: %w", s, err)
	}
	if d.pos != len(s) {
		return nil, fmt.Errorf("decode type %q: trailing input at %d", s, d.pos)
	}
	return t, nil
}

type decoder struct {
	s      string
	pos    int
	lookup LookupFunc
}

func (d *decoder) peek() byte {
	if d.pos >= len(d.s) {
		return 0
	}
	return d.s[d.pos]
}

func (d *decoder) expect(c byte) error {
	if d.peek() != c {
		return fmt.Errorf("expected %q at %d", c, d.pos)
	}
	d.pos++
	return nil
}

func (d *decoder) int() (int64, error) {
	start := d.pos
	if d.peek() == '-' {
		d.pos++
	}
	for d.pos < len(d.s) && d.s[d.pos] >= '0' && d.s[d.pos] <= '9' {
		d.pos++
	}
	return strconv.ParseInt(d.s[start:d.pos], 10, 64)
}

func (d *decoder) wrapped() (Type, error) {
	if err := d.expect('('); err != nil {
		return nil, err
	}
	t, err := d.typ()
	if err != nil {
		return nil, err
	}
	return t, d.expect(')')
}

func (d *decoder) typ() (Type, error) {
	c := d.peek()
	d.pos++
	switch c {
	case '?':
		return nil, nil
	case 'b':
		k, err := d.int()
		if err != nil {
			return nil, err
		}
		if err := d.expect('.'); err != nil {
			return nil, err
		}
		m, err := d.int()
		if err != nil {
			return nil, err
		}
		return &Basic{Kind: BasicKind(k), Mods: BasicMod(m)}, nil
	case 'p', 'q':
		cv, err := d.int()
		if err != nil {
			return nil, err
		}
		elem, err := d.wrapped()
		if err != nil {
			return nil, err
		}
		if c == 'p' {
			return &Pointer{Elem: elem, Const: cv&1 != 0, Volatile: cv&2 != 0}, nil
		}
		return &Qualified{Elem: elem, Const: cv&1 != 0, Volatile: cv&2 != 0}, nil
	case 'r', 'x':
		elem, err := d.wrapped()
		if err != nil {
			return nil, err
		}
		return &Reference{Elem: elem, RValue: c == 'x'}, nil
	case 'a':
		n, err := d.int()
		if err != nil {
			return nil, err
		}
		elem, err := d.wrapped()
		if err != nil {
			return nil, err
		}
		return &Array{Elem: elem, Size: n}, nil
	case 'f':
		flags, err := d.int()
		if err != nil {
			return nil, err
		}
		if err := d.expect('('); err != nil {
			return nil, err
		}
		res, err := d.typ()
		if err != nil {
			return nil, err
		}
		ft := &FunctionType{Result: res, Variadic: flags&1 != 0, Const: flags&2 != 0, Volatile: flags&4 != 0}
		for d.peek() == ';' {
			d.pos++
			p, err := d.typ()
			if err != nil {
				return nil, err
			}
			ft.Params = append(ft.Params, p)
		}
		return ft, d.expect(')')
	case 'm':
		if err := d.expect('('); err != nil {
			return nil, err
		}
		cls, err := d.typ()
		if err != nil {
			return nil, err
		}
		if err := d.expect(';'); err != nil {
			return nil, err
		}
		elem, err := d.typ()
		if err != nil {
			return nil, err
		}
		return &MemberPointer{Class: cls, Elem: elem}, d.expect(')')
	case '!':
		code, err := d.int()
		if err != nil {
			return nil, err
		}
		return NewProblem(ProblemCode(code), ""), nil
	case '#':
		id, err := d.int()
		if err != nil {
			return nil, err
		}
		b, err := d.lookup(id)
		if err != nil {
			return nil, err
		}
		t, ok := b.(Type)
		if !ok {
			return nil, fmt.Errorf("record %d is a %s, not a type", id, b.Kind())
		}
		return t, nil
	}
	return nil, fmt.Errorf("unexpected %q at %d", c, d.pos-1)
}

// EncodeArgs serialises a template argument list. Type arguments are
// "t<type>", non-type arguments "v<value>:<type>", separated by '|'.
func EncodeArgs(args []Arg, ref RefFunc) (string, error) {
	var sb strings.Builder
	for i, a := range args {
		if i > 0 {
			sb.WriteByte('|')
		}
		if a.IsValue() {
			sb.WriteString("v" + strconv.FormatInt(a.Value.Int, 10) + ":")
			if err := encodeType(&sb, a.ValueType, ref); err != nil {
				return "", err
			}
			continue
		}
		sb.WriteByte('t')
		if err := encodeType(&sb, a.Type, ref); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}

// DecodeArgs parses the output of EncodeArgs.
func DecodeArgs(s string, lookup LookupFunc) ([]Arg, error) {
	if s == "" {
		return nil, nil
	}
	d := &decoder{s: s, lookup: lookup}
	var out []Arg
	for {
		switch d.peek() {
		case 't':
			d.pos++
			t, err := d.typ()
			if err != nil {
				return nil, fmt.Errorf("decode args %q: %w", s, err)
			}
			out = append(out, TypeArg(t))
		case 'v':
			d.pos++
			v, err := d.int()
			if err != nil {
				return nil, fmt.Errorf("decode args %q: %w", s, err)
			}
			if err := d.expect(':'); err != nil {
				return nil, fmt.Errorf("decode args %q: %w", s, err)
			}
			t, err := d.typ()
			if err != nil {
				return nil, fmt.Errorf("decode args %q: %w", s, err)
			}
			out = append(out, ValueArg(v, t))
		default:
			return nil, fmt.Errorf("decode args %q: unexpected input at %d", s, d.pos)
		}
		if d.pos == len(s) {
			return out, nil
		}
		if err := d.expect('|'); err != nil {
			return nil, fmt.Errorf("decode args %q: %w", s, err)
		}
	}
}
