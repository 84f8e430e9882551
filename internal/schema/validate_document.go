// Package schema 实现动态集合 Schema 的两类校验：
// 写入时的文档负载校验，以及集合创建/更新时的 Schema 定义校验。
// file: internal/schema/validate_document.go
package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"time"

	"HiveBase/internal/core/domain"
	"HiveBase/internal/core/port"
)

// FieldError 是指向单个字段的校验失败。批量写入的调用方逐条调用
// ValidateDocument，用 FieldError 组装按下标的错误列表。
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("字段 '%s' 校验失败: %s", e.Field, e.Message)
}

// Is 让 errors.Is(err, port.ErrValidation) 对 FieldError 成立。
func (e *FieldError) Is(target error) bool { return target == port.ErrValidation }

// ValidateDocument 按集合当前字段列表校验一份候选文档。
// 返回 nil 表示通过；否则返回第一个失败字段的 *FieldError (短路，不聚合)。
// 未声明的多余键被允许 (Schema 是增量式的，不封闭)；
// unique 约束不在这里检查——唯一性需要存储层查找，由调用方通过唯一索引保证。
func ValidateDocument(doc map[string]any, fields []domain.Field) error {
	// 1. 必填字段必须出现在文档中。
	for _, f := range fields {
		if !f.Required {
			continue
		}
		if _, present := doc[f.Name]; !present {
			return &FieldError{Field: f.Name, Message: "missing required field: " + f.Name}
		}
	}

	// 2. 对文档中出现的每个已声明字段按类型分派校验。
	for _, f := range fields {
		value, present := doc[f.Name]
		if !present {
			continue
		}
		if err := validateValue(value, f); err != nil {
			return err
		}
	}
	return nil
}

// validateValue 按字段声明类型校验单个值。扩展类型退化到基础类型规则。
func validateValue(value any, f domain.Field) error {
	switch f.Type.Base() {
	case domain.FieldString:
		return validateString(value, f)
	case domain.FieldNumber:
		return validateNumber(value, f)
	case domain.FieldBoolean:
		if _, ok := value.(bool); !ok {
			return &FieldError{Field: f.Name, Message: "必须是布尔值"}
		}
		return nil
	case domain.FieldDate:
		return validateDate(value, f)
	case domain.FieldArray:
		return validateArray(value, f)
	case domain.FieldObject:
		return validateObject(value, f)
	default:
		// Schema 定义校验会在更早的时机拒绝未知类型，这里兜底。
		return &FieldError{Field: f.Name, Message: fmt.Sprintf("未知的字段类型 '%s'", f.Type)}
	}
}

func validateString(value any, f domain.Field) error {
	s, ok := value.(string)
	if !ok {
		return &FieldError{Field: f.Name, Message: "必须是字符串"}
	}
	v := f.Validation
	if v == nil {
		return nil
	}
	if v.MinLength != nil && len(s) < *v.MinLength {
		return &FieldError{Field: f.Name, Message: fmt.Sprintf("长度不能小于 %d", *v.MinLength)}
	}
	if v.MaxLength != nil && len(s) > *v.MaxLength {
		return &FieldError{Field: f.Name, Message: fmt.Sprintf("长度不能大于 %d", *v.MaxLength)}
	}
	if v.Pattern != "" {
		re, errCompile := regexp.Compile(v.Pattern)
		if errCompile != nil {
			return &FieldError{Field: f.Name, Message: fmt.Sprintf("约束正则 '%s' 无法编译", v.Pattern)}
		}
		if !re.MatchString(s) {
			return &FieldError{Field: f.Name, Message: fmt.Sprintf("不匹配约束模式 '%s'", v.Pattern)}
		}
	}
	return nil
}

func validateNumber(value any, f domain.Field) error {
	n, ok := toFloat(value)
	if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
		return &FieldError{Field: f.Name, Message: "必须是有限数值"}
	}
	v := f.Validation
	if v == nil {
		return nil
	}
	if v.Min != nil && n < *v.Min {
		return &FieldError{Field: f.Name, Message: fmt.Sprintf("不能小于 %v", *v.Min)}
	}
	if v.Max != nil && n > *v.Max {
		return &FieldError{Field: f.Name, Message: fmt.Sprintf("不能大于 %v", *v.Max)}
	}
	return nil
}

// dateLayouts 是文档日期字段接受的格式，按顺序尝试。
var dateLayouts = []string{time.RFC3339, "2006-01-02"}

func validateDate(value any, f domain.Field) error {
	s, ok := value.(string)
	if !ok {
		return &FieldError{Field: f.Name, Message: "日期必须是字符串"}
	}
	for _, layout := range dateLayouts {
		if _, errParse := time.Parse(layout, s); errParse == nil {
			return nil
		}
	}
	return &FieldError{Field: f.Name, Message: fmt.Sprintf("'%s' 不是合法的日期/时间", s)}
}

func validateArray(value any, f domain.Field) error {
	arr, ok := value.([]any)
	if !ok {
		return &FieldError{Field: f.Name, Message: "必须是数组"}
	}
	v := f.Validation
	if v == nil {
		return nil
	}
	if v.MinItems != nil && len(arr) < *v.MinItems {
		return &FieldError{Field: f.Name, Message: fmt.Sprintf("元素数不能少于 %d", *v.MinItems)}
	}
	if v.MaxItems != nil && len(arr) > *v.MaxItems {
		return &FieldError{Field: f.Name, Message: fmt.Sprintf("元素数不能多于 %d", *v.MaxItems)}
	}
	return nil
}

func validateObject(value any, f domain.Field) error {
	if value == nil {
		return &FieldError{Field: f.Name, Message: "必须是非空对象"}
	}
	if _, ok := value.(map[string]any); !ok {
		return &FieldError{Field: f.Name, Message: "必须是键值对象"}
	}
	return nil
}

// toFloat 把 JSON 解码或调用方直接传入的各种数值表示归一为 float64。
func toFloat(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
