package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexforge/jitcache/tensor"
)

func TestNameRefCanonicalSortsAttrs(t *testing.T) {
	a := NameRef{Name: "matmul", Attrs: map[string]string{"T": "f32", "transpose_a": "true"}}
	b := NameRef{Name: "matmul", Attrs: map[string]string{"transpose_a": "true", "T": "f32"}}

	assert.Equal(t, a.Canonical(), b.Canonical(), "attr insertion order must not matter")
	assert.Equal(t, "matmul[T=f32,transpose_a=true]", a.Canonical())
}

func TestNameRefCanonicalWithoutAttrs(t *testing.T) {
	r := NameRef{Name: "relu"}
	assert.Equal(t, "relu", r.Canonical())
}

func TestNameRefCanonicalDistinguishesAttrValues(t *testing.T) {
	a := NameRef{Name: "cast", Attrs: map[string]string{"to": "f32"}}
	b := NameRef{Name: "cast", Attrs: map[string]string{"to": "f64"}}

	assert.NotEqual(t, a.Canonical(), b.Canonical())
}

func TestOpContextNameRef(t *testing.T) {
	op := OpContext{
		Name:   "AddV2",
		Device: "/device:FPU:0",
		Attrs:  map[string]string{"T": "f32"},
	}

	ref := op.NameRef()

	assert.Equal(t, "AddV2[T=f32]", ref.Canonical())
}

func TestArgumentValidate(t *testing.T) {
	lit := tensor.ScalarF32(1)

	tests := []struct {
		name    string
		arg     Argument
		wantErr bool
	}{
		{
			name: "valid parameter",
			arg:  Param("x", tensor.F32, 2, 3),
		},
		{
			name: "parameter with invalid dtype",
			arg:  Argument{Kind: Parameter, Name: "x"},

			wantErr: true,
		},
		{
			name: "parameter with negative dim",
			arg:  Param("x", tensor.F32, -1),

			wantErr: true,
		},
		{
			name: "valid resource",
			arg:  Argument{Kind: Resource, Name: "var", Type: tensor.F32, Shape: tensor.MakeShape(4)},
		},
		{
			name: "valid constant",
			arg:  Const("axis", lit),
		},
		{
			name: "constant without value",
			arg:  Argument{Kind: Constant, Name: "axis"},

			wantErr: true,
		},
		{
			name: "unknown kind",
			arg:  Argument{Kind: ArgumentKind(42), Name: "x"},

			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.arg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestModuleFingerprintTracksIR(t *testing.T) {
	a := Module{Name: "prog", IR: []byte{1, 2, 3}}
	b := Module{Name: "other", IR: []byte{1, 2, 3}}
	c := Module{Name: "prog", IR: []byte{1, 2, 4}}

	require.Len(t, a.Fingerprint(), 64, "sha256 hex digest")
	assert.Equal(t, a.Fingerprint(), b.Fingerprint(), "fingerprint covers IR only")
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint(), "IR change must change the fingerprint")
}

func TestBuildOptionsFor(t *testing.T) {
	res := &CompilationResult{NumOutputs: 3}

	pinned := BuildOptionsFor(Options{DeviceType: "FPU", DeviceOrdinal: 2}, res, 0)
	assert.Equal(t, 2, pinned.DeviceOrdinal, "explicit ordinal wins")
	assert.Equal(t, 3, pinned.NumOutputs)

	defaulted := BuildOptionsFor(Options{DeviceType: "FPU", DeviceOrdinal: -1}, res, 7)
	assert.Equal(t, 7, defaulted.DeviceOrdinal, "negative ordinal falls back to the default")
}
