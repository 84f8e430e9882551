// file: internal/schema/validate_document_test.go
package schema

import (
	"errors"
	"testing"

	"HiveBase/internal/core/domain"
	"HiveBase/internal/core/port"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDocument_RequiredField(t *testing.T) {
	fields := []domain.Field{
		{Name: "title", Type: domain.FieldString, Required: true},
	}

	err := ValidateDocument(map[string]any{}, fields)
	require.Error(t, err, "缺少必填字段应失败")
	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "title", fe.Field)
	assert.Contains(t, fe.Message, "missing required field")
	assert.True(t, errors.Is(err, port.ErrValidation), "字段错误应归入校验类别")

	assert.NoError(t, ValidateDocument(map[string]any{"title": "x"}, fields))
}

func TestValidateDocument_NumberBounds(t *testing.T) {
	minV, maxV := 0.0, 150.0
	fields := []domain.Field{{
		Name: "age", Type: domain.FieldNumber, Required: true,
		Validation: &domain.FieldValidation{Min: &minV, Max: &maxV},
	}}

	assert.NoError(t, ValidateDocument(map[string]any{"age": 30}, fields))
	assert.NoError(t, ValidateDocument(map[string]any{"age": 0.0}, fields), "边界值本身应通过")
	assert.Error(t, ValidateDocument(map[string]any{"age": -1}, fields), "低于下界应失败")
	assert.Error(t, ValidateDocument(map[string]any{"age": 200}, fields), "高于上界应失败")
	assert.Error(t, ValidateDocument(map[string]any{"age": "thirty"}, fields), "非数值应失败")
}

func TestValidateDocument_StringConstraints(t *testing.T) {
	two, five := 2, 5
	fields := []domain.Field{{
		Name: "code", Type: domain.FieldString,
		Validation: &domain.FieldValidation{MinLength: &two, MaxLength: &five, Pattern: `^[a-z]+$`},
	}}

	assert.NoError(t, ValidateDocument(map[string]any{"code": "abc"}, fields))
	assert.Error(t, ValidateDocument(map[string]any{"code": "a"}, fields), "短于 min_length 应失败")
	assert.Error(t, ValidateDocument(map[string]any{"code": "abcdef"}, fields), "长于 max_length 应失败")
	assert.Error(t, ValidateDocument(map[string]any{"code": "ABC"}, fields), "不匹配 pattern 应失败")
	assert.Error(t, ValidateDocument(map[string]any{"code": 42}, fields), "非字符串应失败")
}

func TestValidateDocument_DateFormats(t *testing.T) {
	fields := []domain.Field{{Name: "born", Type: domain.FieldDate}}

	assert.NoError(t, ValidateDocument(map[string]any{"born": "2024-03-01T10:00:00Z"}, fields))
	assert.NoError(t, ValidateDocument(map[string]any{"born": "2024-03-01"}, fields))
	assert.Error(t, ValidateDocument(map[string]any{"born": "01/03/2024"}, fields))
	assert.Error(t, ValidateDocument(map[string]any{"born": 20240301}, fields))
}

func TestValidateDocument_ArrayAndObject(t *testing.T) {
	one, three := 1, 3
	fields := []domain.Field{
		{Name: "tags", Type: domain.FieldArray,
			Validation: &domain.FieldValidation{MinItems: &one, MaxItems: &three}},
		{Name: "meta", Type: domain.FieldObject},
		{Name: "ok", Type: domain.FieldBoolean},
	}

	assert.NoError(t, ValidateDocument(map[string]any{
		"tags": []any{"a"}, "meta": map[string]any{"k": "v"}, "ok": true,
	}, fields))
	assert.Error(t, ValidateDocument(map[string]any{"tags": []any{}}, fields), "少于 min_items 应失败")
	assert.Error(t, ValidateDocument(map[string]any{"tags": []any{"a", "b", "c", "d"}}, fields), "多于 max_items 应失败")
	assert.Error(t, ValidateDocument(map[string]any{"meta": nil}, fields), "显式 null 对象应失败")
	assert.Error(t, ValidateDocument(map[string]any{"meta": "{}"}, fields), "字符串不是对象")
	assert.Error(t, ValidateDocument(map[string]any{"ok": 1}, fields), "数值不是布尔")
}

func TestValidateDocument_ExtendedTypesUseBaseRules(t *testing.T) {
	fields := []domain.Field{
		{Name: "contact", Type: domain.FieldEmail},
		{Name: "page", Type: domain.FieldURL},
	}
	assert.NoError(t, ValidateDocument(map[string]any{"contact": "a@b.c", "page": "x"}, fields),
		"扩展类型按字符串规则校验")
	assert.Error(t, ValidateDocument(map[string]any{"contact": 5}, fields))
}

func TestValidateDocument_ExtraKeysAllowed(t *testing.T) {
	fields := []domain.Field{{Name: "title", Type: domain.FieldString}}
	assert.NoError(t, ValidateDocument(map[string]any{"title": "x", "undeclared": 123}, fields),
		"未声明的多余键应被允许")
}
