package partition

import "strings"

// protectedNames is the case-insensitive name-blacklist heuristic shared
// by all three parsers (spec.md §4.5).
var protectedNames = map[string]bool{
	"nvram": true, "nvdata": true, "nvcfg": true,
	"protect1": true, "protect2": true, "protect_f": true, "protect_s": true,
	"persist": true, "persistbk": true,
	"frp": true, "seccfg": true, "sec1": true, "sec2": true, "secro": true,
	"seckeyblob": true, "proinfo": true, "efuse": true, "expdb": true,
	"otp": true, "md_udc": true, "cdt_engineering": true,
}

// IsProtectedName applies the case-insensitive protected-partition
// name heuristic.
func IsProtectedName(name string) bool {
	return protectedNames[strings.ToLower(name)]
}

// skipNames are rows every parser drops outright rather than turning into
// plan entries (GPT tables, the synthetic "last" row).
var skipNames = map[string]bool{
	"primarygpt": true, "backupgpt": true, "last_parti": true,
}

// IsSkippedName reports whether name is one of the rows spec.md §4.5 says
// to always drop (case-insensitive).
func IsSkippedName(name string) bool {
	return skipNames[strings.ToLower(name)]
}

// IsKeepNVName matches spec.md §4.8's Keep-NV skip pattern: "nv*" / "runtime*".
func IsKeepNVName(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasPrefix(lower, "nv") || strings.HasPrefix(lower, "runtime")
}
