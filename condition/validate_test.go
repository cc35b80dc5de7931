package condition

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"scalar", `true`, false},
		{"simple comparison", `{">":[{"var":"amount"},1000]}`, false},
		{"nested logic", `{"and":[{"==":[{"var":"a"},1]},{"or":[{"var":"b"},{"!":{"var":"c"}}]}]}`, false},
		{"literal object", `{"==":[{"var":"meta"},{"source":"web","tags":["x"]}]}`, false},
		{"unknown single key is data", `{"regex":["a","b"]}`, false},
		{"quantifier", `{"some":[{"var":"items"},{">":[{"var":"qty"},1]}]}`, false},
		{"too few arguments", `{"==":[1]}`, true},
		{"too many arguments", `{"!":[1,2]}`, true},
		{"and needs two", `{"and":[true]}`, true},
		{"minus takes at most two", `{"-":[1,2,3]}`, true},
		{"var path not string", `{"var":[1]}`, true},
		{"operator mixed with keys", `{"==":[1,1],"extra":true}`, true},
		{"bad nested argument", `{"and":[true,{"<":[]}]}`, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(mustParse(t, tc.expr))
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, IsStructural(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateErrorKinds(t *testing.T) {
	t.Run("mixed keys report unknown operator", func(t *testing.T) {
		err := Validate(map[string]any{"and": []any{true, true}, "note": "x"})
		assert.ErrorIs(t, err, ErrUnknownOperator)

		var se *StructuralError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, "$", se.Path)
	})

	t.Run("arity reports operator and path", func(t *testing.T) {
		err := Validate(mustParse(t, `{"or":[true,{"in":["x"]}]}`))
		var ia *InvalidArgumentsError
		require.True(t, errors.As(err, &ia))
		assert.Equal(t, "in", ia.Operator)
		assert.Equal(t, "$/or/1", ia.Path)
	})

	t.Run("foreign value is not an object", func(t *testing.T) {
		err := Validate(map[string]any{"==": []any{struct{}{}, 1}})
		assert.ErrorIs(t, err, ErrNotAnObject)
	})

	t.Run("cycle through argument list", func(t *testing.T) {
		args := []any{nil, true}
		node := map[string]any{"and": args}
		args[0] = node
		assert.ErrorIs(t, Validate(node), ErrCyclicReference)
	})

	t.Run("cycle through literal data", func(t *testing.T) {
		data := map[string]any{"k": nil, "other": 1}
		data["k"] = data
		err := Validate(map[string]any{"==": []any{data, 1}})
		assert.ErrorIs(t, err, ErrCyclicReference)
	})

	t.Run("shared subtree is not a cycle", func(t *testing.T) {
		shared := map[string]any{"var": "a"}
		assert.NoError(t, Validate(map[string]any{"==": []any{shared, shared}}))
	})
}

func TestEvaluationErrorIsNotStructural(t *testing.T) {
	_, err := Apply(mustParse(t, `{"/":[1,0]}`), nil)
	require.Error(t, err)
	assert.False(t, IsStructural(err))

	var ee *EvaluationError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "/", ee.Operator)
}
