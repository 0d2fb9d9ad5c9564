package output

import (
	"encoding/json"
)

func renderJSON(data any, indent bool) (string, error) {
	var (
		raw []byte
		err error
	)
	if indent {
		raw, err = json.MarshalIndent(data, "", "  ")
	} else {
		raw, err = json.Marshal(data)
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
