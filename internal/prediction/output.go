package prediction

import (
	"encoding/json"
	"errors"

	"github.com/tidwall/gjson"
)

// ErrNoOutput is returned by Output.First when the job produced nothing.
var ErrNoOutput = errors.New("prediction produced no output")

// Output is a succeeded job's raw output field. Models return either a single
// value or an array of values.
type Output json.RawMessage

// MarshalJSON keeps the raw document when an Output is embedded in a response.
func (o Output) MarshalJSON() ([]byte, error) {
	if len(o) == 0 {
		return []byte("null"), nil
	}
	return []byte(o), nil
}

// First returns the first output value, normalizing array and single outputs.
func (o Output) First() (string, error) {
	all := o.All()
	if len(all) == 0 {
		return "", ErrNoOutput
	}
	return all[0], nil
}

// All returns every non-empty output value in order.
func (o Output) All() []string {
	if len(o) == 0 {
		return nil
	}
	r := gjson.ParseBytes(o)
	var vals []gjson.Result
	switch {
	case r.IsArray():
		vals = r.Array()
	case r.Type == gjson.Null:
		return nil
	default:
		vals = []gjson.Result{r}
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if s := v.String(); s != "" {
			out = append(out, s)
		}
	}
	return out
}
