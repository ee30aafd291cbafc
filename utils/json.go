package utils

import (
	"encoding/json"

	"gorm.io/datatypes"
)

// ToJSONColumn encodes v for a datatypes.JSON column. Encoding failures store JSON null.
func ToJSONColumn(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(b)
}

// FromJSONColumn decodes a datatypes.JSON column into T. Empty columns decode to the zero value.
func FromJSONColumn[T any](col datatypes.JSON) (T, error) {
	var out T
	if len(col) == 0 || string(col) == "null" {
		return out, nil
	}
	err := json.Unmarshal(col, &out)
	return out, err
}
