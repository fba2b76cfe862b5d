// Package asm implements the two-pass assembler: pass 1 computes a label
// table by simulating the emission size of every mnemonic, pass 2 emits
// the final 16-bit word stream, resolving label references against that
// table and expanding the .string pseudo-directive.
package asm

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"stackvm/pkg/lexer"
)

// Opcode constants: the 16-bit word with the opcode occupying bits 15..10.
const (
	opAdd      uint16 = 0x0400
	opSub      uint16 = 0x0800
	opMul      uint16 = 0x0C00
	opDiv      uint16 = 0x1000
	opPop      uint16 = 0x1800
	opDup      uint16 = 0x1C00
	opJmp      uint16 = 0x2000
	opJz       uint16 = 0x2400
	opJnz      uint16 = 0x2800
	opCall     uint16 = 0x2C00
	opRet      uint16 = 0x3000
	opEq       uint16 = 0x3400
	opLt       uint16 = 0x3800
	opGt       uint16 = 0x3C00
	opGload    uint16 = 0x4000
	opGstore   uint16 = 0x4400
	opLload    uint16 = 0x4800
	opLstore   uint16 = 0x4C00
	opPushd8   uint16 = 0x5000
	opPushd16  uint16 = 0x5400
	opPushd32  uint16 = 0x5800
	opPushd64  uint16 = 0x5C00
	opPushd128 uint16 = 0x6000
	opSyscall  uint16 = 0x6400
)

// inlineMask selects the low 10 bits an lload/lstore/syscall word ORs in.
const inlineMask = 0x03FF

// simpleOps are zero-argument mnemonics that emit exactly one opcode word.
var simpleOps = map[string]uint16{
	"add": opAdd, "sub": opSub, "mul": opMul, "div": opDiv,
	"pop": opPop, "dup": opDup, "ret": opRet,
	"eq": opEq, "lt": opLt, "gt": opGt,
	"gload": opGload, "gstore": opGstore,
}

// inlineOps take one 10-bit operand packed into the opcode word.
var inlineOps = map[string]uint16{
	"lload": opLload, "lstore": opLstore, "syscall": opSyscall,
}

// branchOps take an 8-word 128-bit target, resolved against the label
// table first and then as an integer literal.
var branchOps = map[string]uint16{
	"jmp": opJmp, "jz": opJz, "jnz": opJnz, "call": opCall,
}

// pushSizes gives each pushdN mnemonic's total word count (opcode + data).
var pushSizes = map[string]int{
	"pushd8": 2, "pushd16": 2, "pushd32": 3, "pushd64": 5, "pushd128": 9,
}

var pushOpcodes = map[string]uint16{
	"pushd8": opPushd8, "pushd16": opPushd16, "pushd32": opPushd32,
	"pushd64": opPushd64, "pushd128": opPushd128,
}

// Assembler holds the label table built by pass 1 and the token->line
// map used to attach source line numbers to diagnostics. A fresh
// Assembler is created per call to Assemble; no state is shared between
// assemblies.
type Assembler struct {
	labels map[string]uint64
	lines  []int
}

// Assemble tokenizes and assembles source into a 16-bit word stream.
func Assemble(source string) ([]uint16, error) {
	a := &Assembler{labels: make(map[string]uint64)}
	tokens, lines, err := lexer.TokenizeLines(source)
	if err != nil {
		return nil, err
	}
	a.lines = lines

	if err := a.pass1(tokens); err != nil {
		return nil, err
	}
	return a.pass2(tokens)
}

// errf builds a diagnostic naming the token index's source line, when
// known, so assembly errors point at the offending token or opcode.
func (a *Assembler) errf(i int, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if i >= 0 && i < len(a.lines) {
		return fmt.Errorf("assemble: line %d: %s", a.lines[i], msg)
	}
	return fmt.Errorf("assemble: %s", msg)
}

// mnemonicSize returns the emitted word count for a recognized simple,
// inline, branch, or push mnemonic (everything except .string, which
// pass1/pass2 handle directly since its size depends on its string
// operand's length).
func mnemonicSize(tok string) (int, bool) {
	if _, ok := simpleOps[tok]; ok {
		return 1, true
	}
	if _, ok := inlineOps[tok]; ok {
		return 1, true
	}
	if _, ok := branchOps[tok]; ok {
		return 9, true
	}
	if n, ok := pushSizes[tok]; ok {
		return n, true
	}
	return 0, false
}

// pass1 walks the token stream, recording each label's word position and
// accumulating the running position by each mnemonic's emission size.
func (a *Assembler) pass1(tokens []string) error {
	var pos uint64

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]

		if strings.HasSuffix(tok, ":") && len(tok) > 1 {
			a.labels[tok[:len(tok)-1]] = pos
			continue
		}

		if tok == ".string" {
			if i+2 >= len(tokens) {
				return a.errf(i, ".string requires an address and a string literal")
			}
			str, err := unquote(tokens[i+2])
			if err != nil {
				return a.errf(i+2, "%v", err)
			}
			unescaped, err := unescapeString(str)
			if err != nil {
				return a.errf(i+2, "%v", err)
			}
			pos += 5 * uint64(len(unescaped))
			i += 2
			continue
		}

		size, ok := mnemonicSize(tok)
		if !ok {
			return a.errf(i, "unknown token %q", tok)
		}
		pos += uint64(size)

		// simpleOps take no argument token; every other recognized
		// mnemonic takes exactly one, which pass1 must skip over so it
		// isn't later mistaken for a label or mnemonic of its own.
		if _, ok := simpleOps[tok]; !ok {
			i++
		}
	}

	return nil
}

// pass2 walks the token stream again, emitting the final word sequence,
// resolving branch/call label references against the pass-1 label table
// and expanding .string directives (whose address is an integer literal).
func (a *Assembler) pass2(tokens []string) ([]uint16, error) {
	var out []uint16

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]

		if strings.HasSuffix(tok, ":") && len(tok) > 1 {
			continue
		}

		if tok == ".string" {
			if i+2 >= len(tokens) {
				return nil, a.errf(i, ".string requires an address and a string literal")
			}
			addrTok := tokens[i+1]
			addr, err := strconv.ParseUint(addrTok, 0, 16)
			if err != nil {
				return nil, a.errf(i+1, ".string expects an integer address, got %q", addrTok)
			}
			str, err := unquote(tokens[i+2])
			if err != nil {
				return nil, a.errf(i+2, "%v", err)
			}
			unescaped, err := unescapeString(str)
			if err != nil {
				return nil, a.errf(i+2, "%v", err)
			}
			for k, c := range []byte(unescaped) {
				out = append(out,
					opPushd8, uint16(c),
					opPushd16, uint16(addr)+uint16(k),
					opGstore,
				)
			}
			i += 2
			continue
		}

		if opcode, ok := simpleOps[tok]; ok {
			out = append(out, opcode)
			continue
		}

		if opcode, ok := inlineOps[tok]; ok {
			if i+1 >= len(tokens) {
				return nil, a.errf(i, "%s requires a 10-bit operand", tok)
			}
			n, err := strconv.ParseUint(tokens[i+1], 0, 16)
			if err != nil {
				return nil, a.errf(i+1, "invalid operand for %s: %q", tok, tokens[i+1])
			}
			out = append(out, opcode|(uint16(n)&inlineMask))
			i++
			continue
		}

		if opcode, ok := branchOps[tok]; ok {
			if i+1 >= len(tokens) {
				return nil, a.errf(i, "%s requires a target", tok)
			}
			target, err := a.resolveTarget(tokens[i+1])
			if err != nil {
				return nil, a.errf(i+1, "%v", err)
			}
			out = append(out, opcode)
			out = append(out, splitWords(target, 8)...)
			i++
			continue
		}

		if _, ok := pushSizes[tok]; ok {
			if i+1 >= len(tokens) {
				return nil, a.errf(i, "%s requires a data operand", tok)
			}
			words, err := encodePush(tok, tokens[i+1])
			if err != nil {
				return nil, a.errf(i+1, "%v", err)
			}
			out = append(out, words...)
			i++
			continue
		}

		return nil, a.errf(i, "unknown token %q", tok)
	}

	return out, nil
}

// resolveTarget resolves a branch/call target: first against the label
// table, then as an integer literal.
func (a *Assembler) resolveTarget(tok string) (*big.Int, error) {
	if addr, ok := a.labels[tok]; ok {
		return new(big.Int).SetUint64(addr), nil
	}
	n, err := parseBigInt(tok)
	if err != nil {
		return nil, fmt.Errorf("undefined label or invalid address %q", tok)
	}
	return n, nil
}

// encodePush emits the opcode word plus data words for a pushdN mnemonic.
func encodePush(mnemonic, operand string) ([]uint16, error) {
	opcode := pushOpcodes[mnemonic]

	if mnemonic == "pushd8" {
		if len(operand) >= 2 && operand[0] == '\'' && operand[len(operand)-1] == '\'' {
			b, ok := tryCharLiteral(operand)
			if !ok {
				return nil, fmt.Errorf("invalid character escape in %q", operand)
			}
			return []uint16{opcode, uint16(b)}, nil
		}
		n, err := strconv.ParseUint(operand, 0, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid 8-bit immediate %q", operand)
		}
		return []uint16{opcode, uint16(n)}, nil
	}

	bits := map[string]int{"pushd16": 16, "pushd32": 32, "pushd64": 64, "pushd128": 128}[mnemonic]
	n, err := parseBigInt(operand)
	if err != nil {
		return nil, fmt.Errorf("invalid immediate for %s: %q", mnemonic, operand)
	}
	words := bits / 16
	out := make([]uint16, 0, words+1)
	out = append(out, opcode)
	out = append(out, splitWords(n, words)...)
	return out, nil
}

// splitWords lays out n as `count` little-endian 16-bit words, low word
// first, masking n to 2^(16*count) bits of precision.
func splitWords(n *big.Int, count int) []uint16 {
	out := make([]uint16, count)
	v := new(big.Int).Set(n)
	word := new(big.Int)
	mask := big.NewInt(0xFFFF)
	for i := 0; i < count; i++ {
		word.And(v, mask)
		out[i] = uint16(word.Uint64())
		v.Rsh(v, 16)
	}
	return out
}

// parseBigInt parses an integer literal: optional "0x" prefix for hex,
// otherwise decimal, up to 128 bits.
func parseBigInt(tok string) (*big.Int, error) {
	base := 10
	digits := tok
	if strings.HasPrefix(tok, "0x") || strings.HasPrefix(tok, "0X") {
		base = 16
		digits = tok[2:]
	}
	n, ok := new(big.Int).SetString(digits, base)
	if !ok || n.Sign() < 0 || n.BitLen() > 128 {
		return nil, fmt.Errorf("invalid integer literal %q", tok)
	}
	return n, nil
}

// unquote strips a leading and trailing '"' from a string-literal token.
func unquote(tok string) (string, error) {
	if len(tok) < 2 || tok[0] != '"' || tok[len(tok)-1] != '"' {
		return "", fmt.Errorf("expected a quoted string literal, got %q", tok)
	}
	return tok[1 : len(tok)-1], nil
}

// escapeByte decodes one of the seven recognized backslash escapes
// shared by char literals and .string literals.
func escapeByte(c byte) (byte, bool) {
	switch c {
	case 'n':
		return '\n', true
	case 't':
		return '\t', true
	case 'r':
		return '\r', true
	case '0':
		return 0, true
	case '\\':
		return '\\', true
	case '\'':
		return '\'', true
	case '"':
		return '"', true
	default:
		return 0, false
	}
}

// unescapeString expands backslash escapes in a .string literal's
// content. An unrecognized escape is a fatal assembly error.
func unescapeString(s string) (string, error) {
	var out []byte
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			b, ok := escapeByte(s[i+1])
			if !ok {
				return "", fmt.Errorf("invalid escape '\\%c' in string literal", s[i+1])
			}
			out = append(out, b)
			i++
			continue
		}
		out = append(out, s[i])
	}
	return string(out), nil
}

// tryCharLiteral decodes a 'c' or '\e' token into its byte value.
func tryCharLiteral(tok string) (byte, bool) {
	if len(tok) < 3 || tok[0] != '\'' || tok[len(tok)-1] != '\'' {
		return 0, false
	}
	content := tok[1 : len(tok)-1]
	if len(content) == 1 {
		return content[0], true
	}
	if len(content) == 2 && content[0] == '\\' {
		if b, ok := escapeByte(content[1]); ok {
			return b, true
		}
	}
	return 0, false
}
