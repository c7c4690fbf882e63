package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPropertyKey(t *testing.T) {
	k := NewPropertyKey("check", "auth")
	assert.Equal(t, PropertyKey("check:auth"), k)
	assert.Equal(t, PropertyKey("check:auth:password"), k.Append("password"))
	assert.Equal(t, []string{"check", "auth"}, k.Segments())
	assert.Equal(t, "auth", k.ShortName())

	assert.False(t, KeyExpected.IsModelKey())
	assert.True(t, KeyAuthenticationData.IsModelKey())
}

func TestUpdatePropertyVerdicts(t *testing.T) {
	tests := []struct {
		name string
		old  Verdict
		new  Verdict
		want Verdict
	}{
		{"conclusion replaces incon", VerdictIncon, VerdictPass, VerdictPass},
		{"fail replaces pass", VerdictPass, VerdictFail, VerdictFail},
		{"pass does not clear fail", VerdictFail, VerdictPass, VerdictFail},
		{"ignore overrides fail", VerdictFail, VerdictIgnore, VerdictIgnore},
		{"ignore is sticky", VerdictIgnore, VerdictFail, VerdictIgnore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			props := map[PropertyKey]PropertyValue{
				KeyExpected: VerdictValue{Verdict: tt.old},
			}
			got := UpdateProperty(props, KeyExpected, VerdictValue{Verdict: tt.new})
			assert.Equal(t, tt.want, got.(VerdictValue).Verdict)
			assert.Equal(t, got, props[KeyExpected])
		})
	}
}

func TestUpdatePropertyKeepsExplanation(t *testing.T) {
	props := map[PropertyKey]PropertyValue{}
	UpdateProperty(props, KeyExpected, VerdictValue{Verdict: VerdictPass, Explanation: "seen in capture"})
	got := UpdateProperty(props, KeyExpected, VerdictValue{Verdict: VerdictFail})
	v := got.(VerdictValue)
	assert.Equal(t, VerdictFail, v.Verdict)
	assert.Equal(t, "seen in capture", v.Explanation, "old explanation survives when the new value has none")
}

func TestUpdatePropertySets(t *testing.T) {
	props := map[PropertyKey]PropertyValue{}
	k1, k2, k3 := PropertyKey("check:a"), PropertyKey("check:b"), PropertyKey("check:c")

	UpdateProperty(props, KeyComponents, SetValue{SubKeys: []PropertyKey{k1, k2}})
	got := UpdateProperty(props, KeyComponents, SetValue{SubKeys: []PropertyKey{k2, k3}})
	assert.Equal(t, []PropertyKey{k1, k2, k3}, got.(SetValue).SubKeys, "sets union without duplicates")
}

func TestUpdatePropertyStrings(t *testing.T) {
	props := map[PropertyKey]PropertyValue{}
	UpdateProperty(props, KeyVendor, StringValue("Acme"))
	got := UpdateProperty(props, KeyVendor, StringValue("Globex"))
	assert.Equal(t, StringValue("Globex"), got, "plain values replace")
}

func TestResetProperty(t *testing.T) {
	_, keep := ResetProperty(KeyExpected, VerdictValue{Verdict: VerdictPass})
	assert.False(t, keep, "evidence properties are dropped")

	v, keep := ResetProperty(KeyAuthenticationData, VerdictValue{Verdict: VerdictPass, Explanation: "password x"})
	assert.True(t, keep, "model properties survive a reset")
	assert.Equal(t, VerdictValue{Verdict: VerdictIncon, Explanation: "password x"}, v)
}

func TestSetValueOverallVerdict(t *testing.T) {
	k1, k2 := PropertyKey("check:a"), PropertyKey("check:b")
	set := SetValue{SubKeys: []PropertyKey{k1, k2}}

	props := map[PropertyKey]PropertyValue{}
	assert.Equal(t, VerdictPass, set.OverallVerdict(props), "no verdicts at all is a pass")

	props[k1] = VerdictValue{Verdict: VerdictPass}
	assert.Equal(t, VerdictPass, set.OverallVerdict(props))

	props[k2] = VerdictValue{Verdict: VerdictFail}
	assert.Equal(t, VerdictFail, set.OverallVerdict(props))

	// nested sets aggregate recursively
	nested := PropertyKey("check:nested")
	outer := SetValue{SubKeys: []PropertyKey{nested}}
	props = map[PropertyKey]PropertyValue{
		nested: SetValue{SubKeys: []PropertyKey{k1}},
		k1:     VerdictValue{Verdict: VerdictFail},
	}
	assert.Equal(t, VerdictFail, outer.OverallVerdict(props))
}

func TestEntityExpectedVerdict(t *testing.T) {
	e := newEntity(7)
	_, ok := e.ExpectedVerdict()
	assert.False(t, ok)
	assert.Equal(t, VerdictIncon, e.ExpectedOrIncon())

	e.SetProperty(KeyExpected, VerdictValue{Verdict: VerdictPass})
	v, ok := e.ExpectedVerdict()
	assert.True(t, ok)
	assert.Equal(t, VerdictPass, v)
}
