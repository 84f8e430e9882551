// file: internal/schema/validate_schema.go
package schema

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"HiveBase/internal/core/domain"

	"github.com/go-playground/validator/v10"
)

// identifierPattern 同时约束集合名与字段名。
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// structValidator 校验 Field/Index 定义结构的静态形状 (必填、标识符)。
// 跨字段的约束 (类型枚举、min/max 边界、重名) 在其上手工补齐。
var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New()
	// 自定义 identifier 标签，复用统一的标识符模式。
	_ = v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return identifierPattern.MatchString(fl.Field().String())
	})
	return v
}

// ValidIdentifier 判断名称是否符合 ^[A-Za-z_][A-Za-z0-9_]*$。
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// ValidateSchema 校验集合创建/更新时提交的字段与索引定义。
// 返回 nil 表示通过；否则返回指明出错字段的 *FieldError。
func ValidateSchema(fields []domain.Field, indexes []domain.Index) error {
	seen := make(map[string]string, len(fields)) // 小写名 -> 原始名

	for _, f := range fields {
		if errStruct := structValidator.Struct(f); errStruct != nil {
			return &FieldError{Field: f.Name, Message: structMessage(f.Name, errStruct)}
		}
		if !f.Type.Known() {
			return &FieldError{Field: f.Name, Message: fmt.Sprintf("未知的字段类型 '%s'", f.Type)}
		}

		lower := strings.ToLower(f.Name)
		if prev, dup := seen[lower]; dup {
			return &FieldError{Field: f.Name, Message: fmt.Sprintf("字段名与 '%s' 重复", prev)}
		}
		seen[lower] = f.Name

		if errBounds := validateBounds(f); errBounds != nil {
			return errBounds
		}
	}

	for _, idx := range indexes {
		if errStruct := structValidator.Struct(idx); errStruct != nil {
			return &FieldError{Field: idx.Name, Message: structMessage(idx.Name, errStruct)}
		}
		for _, fieldName := range idx.Fields {
			if _, declared := seen[strings.ToLower(fieldName)]; !declared {
				return &FieldError{Field: idx.Name, Message: fmt.Sprintf("索引引用了未声明的字段 '%s'", fieldName)}
			}
		}
	}
	return nil
}

// validateBounds 检查单个字段的约束边界自洽性。
func validateBounds(f domain.Field) error {
	v := f.Validation
	if v == nil {
		return nil
	}
	switch f.Type.Base() {
	case domain.FieldString:
		if v.MinLength != nil && v.MaxLength != nil && *v.MinLength > *v.MaxLength {
			return &FieldError{Field: f.Name, Message: "min_length 不能大于 max_length"}
		}
		if v.Pattern != "" {
			if _, errCompile := regexp.Compile(v.Pattern); errCompile != nil {
				return &FieldError{Field: f.Name, Message: fmt.Sprintf("约束正则 '%s' 无法编译: %v", v.Pattern, errCompile)}
			}
		}
	case domain.FieldNumber:
		if v.Min != nil && v.Max != nil && *v.Min > *v.Max {
			return &FieldError{Field: f.Name, Message: "min 不能大于 max"}
		}
	case domain.FieldArray:
		if v.MinItems != nil && v.MaxItems != nil && *v.MinItems > *v.MaxItems {
			return &FieldError{Field: f.Name, Message: "min_items 不能大于 max_items"}
		}
	}
	return nil
}

// structMessage 把 validator 的结构错误翻译成指向具体字段的文案。
func structMessage(name string, err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		switch fe.Tag() {
		case "required":
			return fmt.Sprintf("缺少必填属性 '%s'", strings.ToLower(fe.Field()))
		case "identifier":
			return fmt.Sprintf("名称 '%s' 不符合标识符模式 ^[A-Za-z_][A-Za-z0-9_]*$", name)
		case "min":
			return fmt.Sprintf("属性 '%s' 至少需要 %s 个元素", strings.ToLower(fe.Field()), fe.Param())
		}
	}
	return err.Error()
}
