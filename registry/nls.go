package registry

import "fmt"

// NLSFileSet names the three NLS tables the loader must map before it can
// hand off: ANSI, OEM, and either the per-language default codepage table
// (pre-1803) or a fixed table (1803+, which folds language data into one
// file regardless of locale).
type NLSFileSet struct {
	ANSI     string
	OEM      string
	Language string
}

// ResolveNLSFiles reads CurrentControlSet\Control\Nls\CodePage for ACP and
// OEMCP, and on builds before 1803 also resolves the language default
// table from Control\Nls\Language; 1803 and later always use the fixed
// l_intl.nls regardless of locale.
func ResolveNLSFiles(h *Hive, ccs NodeID, build uint32) (NLSFileSet, error) {
	cpKey, err := h.Find(ccs, `Control\Nls\CodePage`)
	if err != nil {
		return NLSFileSet{}, errNotFound("ResolveNLSFiles", `Control\Nls\CodePage`)
	}

	acp, err := h.readNLSTableName(cpKey, "ACP")
	if err != nil {
		return NLSFileSet{}, err
	}
	oemcp, err := h.readNLSTableName(cpKey, "OEMCP")
	if err != nil {
		return NLSFileSet{}, err
	}

	const redstone4 = 17134 // Windows 10 1803
	if build >= redstone4 {
		return NLSFileSet{ANSI: acp, OEM: oemcp, Language: "l_intl.nls"}, nil
	}

	langKey, err := h.Find(ccs, `Control\Nls\Language`)
	if err != nil {
		return NLSFileSet{}, errNotFound("ResolveNLSFiles", `Control\Nls\Language`)
	}
	lang, err := h.readNLSTableName(langKey, "Default")
	if err != nil {
		return NLSFileSet{}, err
	}
	return NLSFileSet{ANSI: acp, OEM: oemcp, Language: lang}, nil
}

func (h *Hive) readNLSTableName(key NodeID, valueName string) (string, error) {
	v, err := h.GetValue(key, valueName)
	if err != nil {
		return "", errNotFound("readNLSTableName", valueName)
	}
	s, err := h.ValueString(v)
	if err != nil {
		return "", err
	}
	return s + ".nls", nil
}

// ResolveErrataInf returns the errata INF path named under
// Control\Errata\InfName (Vista and later) or Control\BiosInfo\InfName
// (older releases), prefixed with "inf\" the way the loader expects to
// find it relative to the system root. Absence of the key or value is not
// an error: callers should treat a "" result as "no errata INF".
func ResolveErrataInf(h *Hive, ccs NodeID, vistaOrLater bool) (string, error) {
	path := `Control\Errata`
	if !vistaOrLater {
		path = `Control\BiosInfo`
	}
	key, err := h.Find(ccs, path)
	if err != nil {
		return "", nil
	}
	v, err := h.GetValue(key, "InfName")
	if err != nil {
		return "", nil
	}
	name, err := h.ValueString(v)
	if err != nil {
		return "", nil
	}
	return fmt.Sprintf(`inf\%s`, name), nil
}
