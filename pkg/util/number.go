package util

import (
	"bytes"
	"strconv"
)

// StringFloat64 decodes numbers the exchange sends either quoted or bare.
// Empty strings and null decode to zero.
type StringFloat64 float64

func (sf *StringFloat64) UnmarshalJSON(data []byte) error {
	s := string(bytes.Trim(data, `"`))
	if s == "" || s == "null" {
		*sf = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*sf = StringFloat64(f)
	return nil
}

func (sf StringFloat64) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatFloat(float64(sf), 'f', -1, 64))), nil
}

func (sf StringFloat64) Float64() float64 { return float64(sf) }
