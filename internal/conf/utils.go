package conf

import "bytes"

// newReader adapts a byte slice to the io.Reader viper.ReadConfig expects.
func newReader(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}
