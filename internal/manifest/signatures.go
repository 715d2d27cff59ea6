package manifest

import "strings"

// MatchDefect scans combined toolchain output for known defect signatures,
// returning the first matching signature in table order. Any output that
// matches nothing is an unclassified failure and must not be retried.
func (rs RuleSet) MatchDefect(output string) (DefectSignature, bool) {
	for _, sig := range rs.Signatures {
		if strings.Contains(output, sig.Signature) {
			return sig, true
		}
	}
	return DefectSignature{}, false
}
