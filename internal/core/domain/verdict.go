package domain

import "strings"

// Verdict is the result of verifying an entity or property against
// the declared model.
type Verdict string

const (
	// VerdictIncon means no conclusion could be made.
	VerdictIncon Verdict = "Incon"
	// VerdictFail means the verification failed.
	VerdictFail Verdict = "Fail"
	// VerdictPass means the verification passed.
	VerdictPass Verdict = "Pass"
	// VerdictIgnore means the check is explicitly ignored.
	VerdictIgnore Verdict = "Ignore"
)

// Status is the lifecycle state of an entity with respect to the
// declared model.
type Status string

const (
	// StatusPlaceholder marks an entity not backed by live evidence.
	StatusPlaceholder Status = "Placeholder"
	// StatusExpected marks an entity declared in the model.
	StatusExpected Status = "Expected"
	// StatusUnexpected marks an observed entity the model does not allow.
	StatusUnexpected Status = "Unexpected"
	// StatusExternal marks an observed entity tolerated by policy.
	StatusExternal Status = "External"
)

// ParseVerdict resolves a verdict from its string value, case-insensitive.
func ParseVerdict(value string) (Verdict, bool) {
	switch strings.ToLower(value) {
	case "incon":
		return VerdictIncon, true
	case "fail":
		return VerdictFail, true
	case "pass":
		return VerdictPass, true
	case "ignore":
		return VerdictIgnore, true
	}
	return VerdictIncon, false
}

// ParseStatus resolves a lifecycle status from its string value.
func ParseStatus(value string) (Status, bool) {
	switch Status(value) {
	case StatusPlaceholder, StatusExpected, StatusUnexpected, StatusExternal:
		return Status(value), true
	}
	return StatusPlaceholder, false
}

var updateRank = map[Verdict]int{
	VerdictIncon:  0,
	VerdictPass:   1,
	VerdictFail:   2,
	VerdictIgnore: 3,
}

// UpdateVerdict combines repeated observations of the same property.
// Ignore is sticky, otherwise Fail wins over Pass wins over Incon.
// Distinct from AggregateVerdict, do not mix the two.
func UpdateVerdict(verdicts ...Verdict) Verdict {
	v := VerdictIncon
	for _, n := range verdicts {
		if updateRank[n] > updateRank[v] {
			v = n
		}
	}
	return v
}

// AggregateVerdict rolls child verdicts up into a parent verdict.
// Fail wins over Pass and anything else is Incon. Never yields Ignore.
func AggregateVerdict(verdicts ...Verdict) Verdict {
	v := VerdictIncon
	for _, n := range verdicts {
		switch {
		case n == VerdictFail:
			return VerdictFail
		case n == VerdictPass:
			v = VerdictPass
		}
	}
	return v
}
