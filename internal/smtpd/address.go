package smtpd

import "regexp"

// addressPattern is the exact grammar spec §4.1 requires <addr> content
// to satisfy.
var addressPattern = regexp.MustCompile(
	`^[A-Za-z0-9]+([._-]?[A-Za-z0-9]+)*@[A-Za-z0-9]+([._-]?[A-Za-z0-9]+)*\.[a-z]{2,6}$`,
)

// ValidAddress reports whether addr (without angle brackets) matches the
// spec's address syntax.
func ValidAddress(addr string) bool {
	return addressPattern.MatchString(addr)
}

// LocalPart returns the portion of addr before '@'. Callers only invoke
// this on addresses that already passed ValidAddress, so '@' is always
// present.
func LocalPart(addr string) string {
	for i := 0; i < len(addr); i++ {
		if addr[i] == '@' {
			return addr[:i]
		}
	}
	return addr
}
