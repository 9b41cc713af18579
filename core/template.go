package core

import "strings"

// RegisterFn resolves a template placeholder's operand index N to a concrete
// IR-level name. RegisterFn implementations are supplied by the evaluation
// engine, which knows the per-node-per-type local register numbering.
type RegisterFn func(operand int) (string, error)

// TypeFn resolves operand N's textual type name ($tN).
type TypeFn func(operand int) (string, error)

// SubstituteParams bundles the four placeholder-resolution callbacks the
// template substitution state machine needs. All four are optional; a nil
// callback causes an error only if the corresponding placeholder is
// actually present in the template.
type SubstituteParams struct {
	Register RegisterFn // $rN -> register name of operand N (0 = result)
	Type     TypeFn     // $tN -> textual type name of operand N
	Binary   TypeFn     // $bN -> generic same-width binary type name
	Width    func() (string, error) // $wN -> current SIMD width (N ignored, LLVM only)
}

// Substitute scans stmt for placeholders of the form $r0..$r3, $t0..$t3,
// $b0..$b3, $w0..$w3 and replaces each with the value its resolver
// produces. Any other byte, including a bare '$' not followed by one of
// {r,t,b,w} and a digit, is copied verbatim — the grammar is intentionally
// tiny, so a single left-to-right byte scan is enough; no need for a
// regexp or a parser generator.
func Substitute(stmt string, p SubstituteParams) (string, error) {
	var out strings.Builder
	out.Grow(len(stmt) + 16)

	for i := 0; i < len(stmt); i++ {
		c := stmt[i]
		if c != '$' || i+2 >= len(stmt) {
			out.WriteByte(c)
			continue
		}

		kind := stmt[i+1]
		digit := stmt[i+2]
		if digit < '0' || digit > '3' || !isPlaceholderKind(kind) {
			out.WriteByte(c)
			continue
		}
		n := int(digit - '0')

		var (
			val string
			err error
		)
		switch kind {
		case 'r':
			if p.Register == nil {
				return "", errNoResolver("$r", n)
			}
			val, err = p.Register(n)
		case 't':
			if p.Type == nil {
				return "", errNoResolver("$t", n)
			}
			val, err = p.Type(n)
		case 'b':
			if p.Binary == nil {
				return "", errNoResolver("$b", n)
			}
			val, err = p.Binary(n)
		case 'w':
			if p.Width == nil {
				return "", errNoResolver("$w", n)
			}
			val, err = p.Width()
		}
		if err != nil {
			return "", err
		}
		out.WriteString(val)
		i += 2
	}

	return out.String(), nil
}

func isPlaceholderKind(k byte) bool {
	return k == 'r' || k == 't' || k == 'b' || k == 'w'
}

type templateError struct {
	placeholder string
	operand     int
}

func (e *templateError) Error() string {
	return "core: no resolver registered for " + e.placeholder + itoa(e.operand) + " placeholder"
}

func errNoResolver(placeholder string, operand int) error {
	return &templateError{placeholder: placeholder, operand: operand}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	return string(rune('0' + n))
}
