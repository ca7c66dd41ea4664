package attachment

import (
	"path/filepath"
	"strings"
)

// DefaultBlockedExtensions are executable and script types that mail
// providers refuse or that clients may run on open.
var DefaultBlockedExtensions = []string{
	"ade", "adp", "app", "application", "appref-ms", "asp", "aspx", "asx",
	"bas", "bat", "bgi", "cab", "cer", "chm", "cmd", "cnt", "com", "cpl",
	"crt", "csh", "der", "diagcab", "exe", "fxp", "gadget", "grp", "hlp",
	"hpj", "hta", "htc", "inf", "ins", "isp", "its", "jar", "jnlp", "js",
	"jse", "ksh", "lnk", "mad", "maf", "mag", "mam", "maq", "mar", "mas",
	"mat", "mcf", "mda", "mdb", "mde", "mdt", "mdw", "mdz", "msc", "msh",
	"msi", "msp", "mst", "msu", "ops", "pcd", "pif", "pl", "prf", "prg",
	"ps1", "ps1xml", "ps2", "ps2xml", "psc1", "psc2", "pst", "py", "pyc",
	"pyo", "pyw", "reg", "scf", "scr", "sct", "shb", "shs", "tmp", "url",
	"vb", "vbe", "vbp", "vbs", "vhd", "vhdx", "vsmacros", "vsw", "ws",
	"wsc", "wsf", "wsh", "xbap", "xll", "xnk",
}

func blockedSet(exts []string) map[string]struct{} {
	set := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" {
			set[e] = struct{}{}
		}
	}
	return set
}

// SafeName appends ".txt" to names whose extension is blocked.
func SafeName(name string, blocked map[string]struct{}) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if _, ok := blocked[ext]; ok && ext != "" {
		return name + ".txt"
	}
	return name
}
