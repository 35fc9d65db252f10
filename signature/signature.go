// Package signature builds the canonical cache keys for compilations.
//
// A signature folds together a program's canonical name and its ordered
// argument list. Runtime parameters contribute their dtype and shape,
// compile-time constants contribute their full host value. Two compilations
// receive the same signature exactly when a compiler would be handed
// identical work.
package signature

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cortexforge/jitcache/compiler"
	"github.com/cortexforge/jitcache/tensor"
)

// ErrUnclassifiable reports an argument that cannot be folded into a
// signature, either because its kind is unknown or because a constant
// argument carries no host value.
var ErrUnclassifiable = errors.New("argument is unclassifiable")

// sigArg is one classified argument. The two implementations below are the
// only ones; nothing outside this package can add a variant.
type sigArg interface {
	appendKey(b []byte) []byte
	equal(other sigArg) bool
	String() string
}

type paramArg struct {
	dtype tensor.DType
	shape tensor.Shape
}

func (p paramArg) appendKey(b []byte) []byte {
	b = append(b, "p:"...)
	return tensor.AppendKey(b, p.dtype, p.shape)
}

func (p paramArg) equal(other sigArg) bool {
	q, ok := other.(paramArg)
	return ok && p.dtype == q.dtype && p.shape.Equal(q.shape)
}

func (p paramArg) String() string {
	return p.dtype.String() + p.shape.String()
}

type constArg struct {
	value tensor.Literal
}

func (c constArg) appendKey(b []byte) []byte {
	b = append(b, "c:"...)
	return c.value.AppendKey(b)
}

func (c constArg) equal(other sigArg) bool {
	q, ok := other.(constArg)
	return ok && c.value.Equal(q.value)
}

func (c constArg) String() string {
	return "const " + c.value.String()
}

// Signature is the canonical identity of one compilation. It is an immutable
// value: Build deep-copies everything it captures, and the digest is computed
// once at construction.
type Signature struct {
	name string
	args []sigArg
	key  string
}

// Build classifies the argument list and folds it into a signature. Argument
// order is preserved; classification failures wrap ErrUnclassifiable.
func Build(name compiler.NameRef, args []compiler.Argument) (Signature, error) {
	sig := Signature{
		name: name.Canonical(),
		args: make([]sigArg, 0, len(args)),
	}

	for i, a := range args {
		switch a.Kind {
		case compiler.Parameter, compiler.Resource:
			if !a.Type.Valid() {
				return Signature{}, fmt.Errorf("argument %d (%q) has invalid dtype: %w", i, a.Name, ErrUnclassifiable)
			}

			sig.args = append(sig.args, paramArg{dtype: a.Type, shape: a.Shape.Clone()})

		case compiler.Constant:
			if a.Constant == nil {
				return Signature{}, fmt.Errorf("argument %d (%q) is constant without a host value: %w", i, a.Name, ErrUnclassifiable)
			}

			if err := a.Constant.Validate(); err != nil {
				return Signature{}, fmt.Errorf("argument %d (%q): %v: %w", i, a.Name, err, ErrUnclassifiable)
			}

			sig.args = append(sig.args, constArg{value: a.Constant.Clone()})

		default:
			return Signature{}, fmt.Errorf("argument %d (%q) has kind %s: %w", i, a.Name, a.Kind, ErrUnclassifiable)
		}
	}

	sig.key = sig.digest()

	return sig, nil
}

func (s Signature) digest() string {
	b := make([]byte, 0, 128)
	b = appendField(b, []byte(s.name))

	for _, a := range s.args {
		b = appendField(b, a.appendKey(nil))
	}

	sum := sha256.Sum256(b)

	return hex.EncodeToString(sum[:])
}

// appendField length-prefixes one field of the canonical encoding. Without
// the prefix a program name could spell out the byte form of an argument
// list and alias a structurally different signature.
func appendField(b, field []byte) []byte {
	b = strconv.AppendInt(b, int64(len(field)), 10)
	b = append(b, ':')

	return append(b, field...)
}

// Key returns the sha256 hex digest of the canonical encoding. Signatures
// are Equal exactly when their keys match, so the key can stand in for the
// signature in maps and filenames.
func (s Signature) Key() string {
	return s.key
}

// Name returns the canonical program name the signature was built for.
func (s Signature) Name() string {
	return s.name
}

// NumArgs returns how many arguments were folded into the signature.
func (s Signature) NumArgs() int {
	return len(s.args)
}

// Equal reports structural equality: same name, same argument count, and
// pairwise equal classifications. Constants compare by value.
func (s Signature) Equal(other Signature) bool {
	if s.name != other.name || len(s.args) != len(other.args) {
		return false
	}

	for i, a := range s.args {
		if !a.equal(other.args[i]) {
			return false
		}
	}

	return true
}

func (s Signature) String() string {
	var b strings.Builder

	b.WriteString(s.name)

	for _, a := range s.args {
		b.WriteString("; ")
		b.WriteString(a.String())
	}

	return b.String()
}
