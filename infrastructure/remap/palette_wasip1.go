//go:build wasip1

package remap

const (
	sgrReset   = "\x1b[0m"
	sgrBoldRed = "\x1b[1;91m"
	sgrRed     = "\x1b[91m"
	sgrBlue    = "\x1b[94m"
)

func sgr(code string) func(string) string {
	return func(s string) string { return code + s + sgrReset }
}

func colors() palette {
	return palette{
		header: sgr(sgrBoldRed),
		gutter: sgr(sgrBlue),
		marker: sgr(sgrRed),
	}
}
