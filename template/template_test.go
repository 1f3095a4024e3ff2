package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/dialogmesh/core"
)

func cartTemplate() *Template {
	return &Template{
		Name:     "add_to_cart",
		Mutating: true,
		Params: []ParamSpec{
			{Name: "product_id", Kind: ParamString, Required: true, ContextFillable: true, Prompt: "Which product would you like?"},
			{Name: "size", Kind: ParamEnum, Required: true, Enum: []string{"S", "M", "L"}, Prompt: "What size do you need?"},
			{Name: "color", Kind: ParamString, Required: true, Prompt: "Which color?"},
			{Name: "quantity", Kind: ParamNumber, Prompt: "How many?"},
		},
	}
}

func TestTemplateCoerce(t *testing.T) {
	tmpl := cartTemplate()

	params, err := tmpl.Coerce(map[string]string{"size": "m", "quantity": "2"})
	require.NoError(t, err)
	assert.Equal(t, core.StringValue("M"), params["size"], "enum values normalize to declared casing")
	assert.Equal(t, core.NumberValue(2), params["quantity"])
}

func TestTemplateCoerceRejectsUnknownKeys(t *testing.T) {
	tmpl := cartTemplate()

	_, err := tmpl.Coerce(map[string]string{"gift_wrap": "yes"})
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "gift_wrap", verr.Field)
}

func TestTemplateCoerceRejectsBadValues(t *testing.T) {
	tmpl := cartTemplate()

	_, err := tmpl.Coerce(map[string]string{"size": "XXL"})
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "size", verr.Field)

	_, err = tmpl.Coerce(map[string]string{"quantity": "two"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "quantity", verr.Field)

	_, err = tmpl.Coerce(map[string]string{"color": "  "})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "color", verr.Field)
}

func TestTemplateRequiredNamesKeepDeclarationOrder(t *testing.T) {
	tmpl := cartTemplate()
	assert.Equal(t, []string{"product_id", "size", "color"}, tmpl.RequiredNames())
}

func TestTemplateValidate(t *testing.T) {
	assert.Error(t, (&Template{}).Validate(), "empty name")

	dup := &Template{Name: "a", Params: []ParamSpec{
		{Name: "x", Kind: ParamString},
		{Name: "x", Kind: ParamString},
	}}
	assert.Error(t, dup.Validate(), "duplicate parameter")

	emptyEnum := &Template{Name: "a", Params: []ParamSpec{{Name: "x", Kind: ParamEnum}}}
	assert.Error(t, emptyEnum.Validate(), "enum without values")

	badKind := &Template{Name: "a", Params: []ParamSpec{{Name: "x", Kind: "datetime"}}}
	assert.Error(t, badKind.Validate(), "unknown kind")

	require.NoError(t, cartTemplate().Validate())
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(cartTemplate()))
	require.NoError(t, reg.Register(&Template{Name: "cancel_order", Mutating: true, Params: []ParamSpec{
		{Name: "order_id", Kind: ParamString, Required: true, Prompt: "Which order?"},
	}}))

	assert.Error(t, reg.Register(cartTemplate()), "duplicate action name")

	tmpl, ok := reg.Get("add_to_cart")
	require.True(t, ok)
	assert.True(t, tmpl.Mutating)

	_, ok = reg.Get("unknown_action")
	assert.False(t, ok)

	assert.Equal(t, []string{"add_to_cart", "cancel_order"}, reg.Names())
}
