package trace

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalJSON_StableByteForByte(t *testing.T) {
	tr1 := Trace{
		ResultHash: "abc",
		Events: []Event{
			{Kind: EventNodeResolved, Subject: "org.example:b:1.0", Artifacts: []string{"b-1.0.jar"}},
			{Kind: EventExecutionComputed, Subject: "resolve-jvm-compile", Reason: "no previous state"},
			{Kind: EventVersionOverridden, Subject: "org.example:c:2.0", Reason: "1.0 -> 2.0"},
		},
	}
	tr2 := Trace{
		ResultHash: "abc",
		Events: []Event{
			{Kind: EventVersionOverridden, Subject: "org.example:c:2.0", Reason: "1.0 -> 2.0"},
			{Kind: EventExecutionComputed, Subject: "resolve-jvm-compile", Reason: "no previous state"},
			{Kind: EventNodeResolved, Subject: "org.example:b:1.0", Artifacts: []string{"b-1.0.jar"}},
		},
	}

	b1, err := tr1.CanonicalJSON()
	require.NoError(t, err)
	b2, err := tr2.CanonicalJSON()
	require.NoError(t, err)
	assert.Equal(t, string(b1), string(b2))
}

func TestCanonicalJSON_OrdersBySubjectThenKind(t *testing.T) {
	tr := Trace{
		ResultHash: "h",
		Events: []Event{
			{Kind: EventDiagnostic, Subject: "a:b:1", Reason: "unresolved", Cause: "error"},
			{Kind: EventNodeFailed, Subject: "a:b:1"},
			{Kind: EventNodeResolved, Subject: "a:a:1"},
		},
	}
	b, err := tr.CanonicalJSON()
	require.NoError(t, err)
	assert.Equal(t,
		`{"resultHash":"h","events":[`+
			`{"kind":"NodeResolved","subject":"a:a:1"},`+
			`{"kind":"NodeFailed","subject":"a:b:1"},`+
			`{"kind":"Diagnostic","subject":"a:b:1","reason":"unresolved","cause":"error"}]}`,
		string(b))
}

func TestCanonicalJSON_ArtifactsSortedAndOmittedWhenEmpty(t *testing.T) {
	tr := Trace{Events: []Event{
		{Kind: EventNodeResolved, Subject: "a:a:1", Artifacts: []string{"z.jar", "a.jar"}},
		{Kind: EventExecutionCached, Subject: "id", Artifacts: []string{}},
	}}
	b, err := tr.CanonicalJSON()
	require.NoError(t, err)
	assert.Equal(t,
		`{"events":[{"kind":"NodeResolved","subject":"a:a:1","artifacts":["a.jar","z.jar"]},`+
			`{"kind":"ExecutionCached","subject":"id"}]}`,
		string(b))
	// The caller's slice is untouched.
	assert.Equal(t, []string{"z.jar", "a.jar"}, tr.Events[0].Artifacts)
}

func TestHash_IgnoresInsertionOrder(t *testing.T) {
	a := Event{Kind: EventExecutionCached, Subject: "x"}
	b := Event{Kind: EventNodeResolved, Subject: "y"}
	h1, err := Trace{ResultHash: "g", Events: []Event{a, b}}.Hash()
	require.NoError(t, err)
	h2, err := Trace{ResultHash: "g", Events: []Event{b, a}}.Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	h3, err := Trace{ResultHash: "other", Events: []Event{a, b}}.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestValidate(t *testing.T) {
	_, err := Trace{Events: []Event{{Subject: "x"}}}.CanonicalJSON()
	assert.ErrorContains(t, err, "kind is required")
	_, err = Trace{Events: []Event{{Kind: EventNodeFailed}}}.CanonicalJSON()
	assert.ErrorContains(t, err, "subject is required")
	_, err = Trace{Events: []Event{{Kind: EventNodeResolved, Subject: "x", Artifacts: []string{""}}}}.CanonicalJSON()
	assert.ErrorContains(t, err, "artifacts[0] is empty")
}

func TestRecorder_ConcurrentRecordsAreCanonical(t *testing.T) {
	rec := NewRecorder()
	var wg sync.WaitGroup
	for _, s := range []string{"c", "a", "b", "d"} {
		wg.Add(1)
		go func(s string) {
			defer wg.Done()
			SafeRecord(rec, Event{Kind: EventNodeResolved, Subject: s})
		}(s)
	}
	wg.Wait()

	tr := rec.Trace("h")
	var subjects []string
	for _, e := range tr.Events {
		subjects = append(subjects, e.Subject)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, subjects)
}

type panickingSink struct{}

func (panickingSink) Record(Event) { panic("boom") }

func TestSafeRecord_ToleratesBadSinks(t *testing.T) {
	assert.NotPanics(t, func() {
		SafeRecord(nil, Event{Kind: EventNodeFailed, Subject: "x"})
		SafeRecord(panickingSink{}, Event{Kind: EventNodeFailed, Subject: "x"})
		NopSink{}.Record(Event{})
	})
}
