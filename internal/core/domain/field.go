// Package domain file: internal/core/domain/field.go
package domain

// FieldType 是字段类型的封闭枚举。
// 运行时声明的字段只允许取这些类型之一；新增类型时编译器会强制
// 校验器的 switch 覆盖所有分支。
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldDate    FieldType = "date"
	FieldArray   FieldType = "array"
	FieldObject  FieldType = "object"

	// 以下为 UI 层使用的扩展类型，存储与校验规则复用基础类型。
	FieldEmail    FieldType = "email"    // 按 string 校验
	FieldURL      FieldType = "url"      // 按 string 校验
	FieldRichText FieldType = "richtext" // 按 string 校验
	FieldFile     FieldType = "file"     // 按 string (文件引用) 校验
	FieldRelation FieldType = "relation" // 按 string (目标文档 ID) 校验
)

// KnownFieldTypes 列出全部合法类型，供 Schema 定义校验使用。
var KnownFieldTypes = []FieldType{
	FieldString, FieldNumber, FieldBoolean, FieldDate, FieldArray, FieldObject,
	FieldEmail, FieldURL, FieldRichText, FieldFile, FieldRelation,
}

// Base 返回扩展类型对应的基础校验类型。
func (t FieldType) Base() FieldType {
	switch t {
	case FieldEmail, FieldURL, FieldRichText, FieldFile, FieldRelation:
		return FieldString
	default:
		return t
	}
}

// Known 判断类型是否在封闭枚举内。
func (t FieldType) Known() bool {
	for _, k := range KnownFieldTypes {
		if t == k {
			return true
		}
	}
	return false
}

// FieldValidation 是单个字段的可选约束集合。
// 指针为 nil 表示该约束未设置。
type FieldValidation struct {
	MinLength *int     `json:"min_length,omitempty"` // string: 最小长度
	MaxLength *int     `json:"max_length,omitempty"` // string: 最大长度
	Min       *float64 `json:"min,omitempty"`        // number: 最小值
	Max       *float64 `json:"max,omitempty"`        // number: 最大值
	MinItems  *int     `json:"min_items,omitempty"`  // array: 最少元素数
	MaxItems  *int     `json:"max_items,omitempty"`  // array: 最多元素数
	Pattern   string   `json:"pattern,omitempty"`    // string: 正则约束
}

// Field 描述集合中一个具名、有类型、可选约束的属性。
// 字段名在集合内唯一，且必须符合标识符模式 ^[A-Za-z_][A-Za-z0-9_]*$。
type Field struct {
	Name       string           `json:"name" validate:"required,identifier"`
	Type       FieldType        `json:"type" validate:"required"`
	Required   bool             `json:"required"`
	Unique     bool             `json:"unique"`
	Indexed    bool             `json:"indexed"`
	Default    any              `json:"default,omitempty"`
	Validation *FieldValidation `json:"validation,omitempty"`
}

// Index 描述集合上的一个索引定义。
type Index struct {
	Name   string   `json:"name" validate:"required,identifier"`
	Fields []string `json:"fields" validate:"required,min=1"`
	Unique bool     `json:"unique"`
}
