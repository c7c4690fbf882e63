package domain

import "strings"

// PropertyKey identifies a property of an entity. Keys are colon-joined
// segment paths, e.g. "check:expected".
type PropertyKey string

// NewPropertyKey creates a key from name segments.
func NewPropertyKey(segments ...string) PropertyKey {
	return PropertyKey(strings.Join(segments, ":"))
}

// Append adds a key segment.
func (k PropertyKey) Append(segment string) PropertyKey {
	return PropertyKey(string(k) + ":" + segment)
}

// Segments splits the key into its name segments.
func (k PropertyKey) Segments() []string {
	return strings.Split(string(k), ":")
}

// ShortName is the last key segment.
func (k PropertyKey) ShortName() string {
	s := k.Segments()
	return s[len(s)-1]
}

// IsModelKey tells if the key is part of the declared model and retains
// its value over a model reset.
func (k PropertyKey) IsModelKey() bool {
	_, ok := modelKeys[k]
	return ok
}

var modelKeys = map[PropertyKey]struct{}{}

// DeclareModelKey creates a key which persists over model resets.
func DeclareModelKey(segments ...string) PropertyKey {
	k := NewPropertyKey(segments...)
	modelKeys[k] = struct{}{}
	return k
}

// Common property keys.
var (
	// KeyExpected carries the verdict for an entity being expected.
	KeyExpected = NewPropertyKey("check", "expected")
	// KeyAuthentication groups authentication check results.
	KeyAuthentication = NewPropertyKey("check", "auth")
	// KeyComponents groups software component check results.
	KeyComponents = NewPropertyKey("check", "components")
	// KeyVulnerabilities groups component vulnerability check results.
	KeyVulnerabilities = NewPropertyKey("check", "vulnz")
	// KeyAuthenticationData marks authentication data declared in the model.
	KeyAuthenticationData = DeclareModelKey("default", "auth")
	// KeyVendor carries the resolved hardware vendor name.
	KeyVendor = NewPropertyKey("default", "vendor")
)

// PropertyValue is a value stored under a property key. The variant set
// is closed: VerdictValue, SetValue and StringValue.
type PropertyValue interface {
	sealedPropertyValue()
}

// VerdictValue is a verdict with an explanation.
type VerdictValue struct {
	Verdict     Verdict
	Explanation string
}

func (VerdictValue) sealedPropertyValue() {}

// SetValue names a group of sub-keys whose combined verdict is derived
// by aggregation.
type SetValue struct {
	SubKeys     []PropertyKey
	Explanation string
}

func (SetValue) sealedPropertyValue() {}

// StringValue is a plain informational value.
type StringValue string

func (StringValue) sealedPropertyValue() {}

// UpdateProperty merges a new value into the properties under the key.
// Verdict values merge by UpdateVerdict semantics, set values union
// their sub-keys and plain values replace the old value. The merged
// value is returned.
func UpdateProperty(properties map[PropertyKey]PropertyValue, key PropertyKey, value PropertyValue) PropertyValue {
	old, seen := properties[key]
	if !seen {
		properties[key] = value
		return value
	}
	switch v := value.(type) {
	case VerdictValue:
		if ov, ok := old.(VerdictValue); ok {
			value = mergeVerdictValue(ov, v)
		}
	case SetValue:
		if ov, ok := old.(SetValue); ok {
			value = mergeSetValue(ov, v)
		}
	case StringValue:
		// plain values replace
	}
	properties[key] = value
	return value
}

func mergeVerdictValue(old, value VerdictValue) VerdictValue {
	var useNew bool
	switch old.Verdict {
	case VerdictIgnore:
		useNew = false // ignore is sticky
	case VerdictIncon:
		useNew = true // maybe we have a conclusion
	default:
		useNew = value.Verdict == VerdictIgnore || value.Verdict == VerdictFail
	}
	if useNew {
		if value.Explanation == "" {
			value.Explanation = old.Explanation
		}
		return value
	}
	if old.Explanation == "" {
		old.Explanation = value.Explanation
	}
	return old
}

func mergeSetValue(old, value SetValue) SetValue {
	seen := make(map[PropertyKey]struct{}, len(old.SubKeys))
	for _, k := range old.SubKeys {
		seen[k] = struct{}{}
	}
	for _, k := range value.SubKeys {
		if _, ok := seen[k]; !ok {
			old.SubKeys = append(old.SubKeys, k)
			seen[k] = struct{}{}
		}
	}
	return old
}

// ResetProperty resolves a property value over a model reset. Model keys
// keep a verdict value reset to inconclusive, everything else is removed.
func ResetProperty(key PropertyKey, value PropertyValue) (PropertyValue, bool) {
	if !key.IsModelKey() {
		return nil, false
	}
	if v, ok := value.(VerdictValue); ok {
		return VerdictValue{Verdict: VerdictIncon, Explanation: v.Explanation}, true
	}
	return nil, false
}

// OverallVerdict aggregates the verdicts of the set's sub-keys resolved
// against the properties. No verdicts at all is a pass.
func (v SetValue) OverallVerdict(properties map[PropertyKey]PropertyValue) Verdict {
	verdict, seen := v.aggregate(properties)
	if !seen || verdict == VerdictIgnore {
		return VerdictPass
	}
	return verdict
}

func (v SetValue) aggregate(properties map[PropertyKey]PropertyValue) (Verdict, bool) {
	verdict, seen := VerdictIncon, false
	for _, k := range v.SubKeys {
		switch sub := properties[k].(type) {
		case VerdictValue:
			verdict = AggregateVerdict(verdict, sub.Verdict)
			seen = true
		case SetValue:
			if sv, ok := sub.aggregate(properties); ok {
				verdict = AggregateVerdict(verdict, sv)
				seen = true
			}
		}
	}
	return verdict, seen
}
