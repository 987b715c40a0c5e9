// Package validation はリクエスト構造体の検証を行う。
package validation

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/memberportal/internal/model"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// エラーメッセージにはJSONのフィールド名を使う
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Struct はvalidateタグに従って構造体を検証する。
// requiredの欠落はMISSING_REQUIRED_FIELDS、それ以外の違反はINVALID_REQUESTの*model.APIErrorになる。
func Struct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return model.NewInvalidRequestError()
	}

	var missing []string
	for _, fe := range verrs {
		if strings.HasPrefix(fe.Tag(), "required") {
			missing = append(missing, fe.Field())
		}
	}
	if len(missing) > 0 {
		return model.NewMissingFieldsError(missing...)
	}
	return model.NewInvalidRequestError()
}
