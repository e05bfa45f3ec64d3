package symbols

import "strings"

// Futures product roots grouped by the rule that recovers them from a raw
// contract symbol such as "ESU5" or "MESZ5".
var (
	microRoots     = []string{"MES", "MNQ", "M2K", "MGC", "MBT", "MET", "MCL", "MYM"}
	zRoots         = []string{"ZN", "ZB", "ZF", "ZT", "ZC", "ZS", "ZQ", "ZW", "ZL", "ZM"}
	twoLetterRoots = []string{"ES", "NQ", "NG", "CL", "GC", "SI", "HG", "TN", "UB", "YM", "KC", "KE", "RB", "PL"}
)

// monthCodes are the exchange contract month letters.
const monthCodes = "FGHJKMNQUVXZ"

// Root extracts the product root from a raw contract symbol: "MESZ5" yields
// "MES", "6EU5" yields "6E", "ZCH6" yields "ZC". Option symbols carry the
// root in their first space-separated token. SOFR contracts collapse to
// "SR3" or "SR1". Symbols outside the known root tables fall back to
// scanning for the first digit or month code, then to the first two
// characters.
func Root(symbol string) string {
	s := symbol
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	if len(s) < 2 {
		return s
	}
	switch {
	case hasPrefixAny(s, microRoots):
		return s[:3]
	case s[0] == '6':
		return s[:2]
	case hasPrefixAny(s, zRoots):
		return s[:2]
	case hasPrefixAny(s, twoLetterRoots):
		return s[:2]
	case strings.HasPrefix(s, "RTY"):
		return s[:3]
	case strings.HasPrefix(s, "SR"):
		if strings.HasPrefix(s, "SR3") {
			return "SR3"
		}
		return "SR1"
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		if (c >= '0' && c <= '9') || strings.IndexByte(monthCodes, c) >= 0 {
			return s[:i]
		}
	}
	return s[:2]
}

func hasPrefixAny(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
