package diagnostics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_FailedOnlyOnError(t *testing.T) {
	c := NewCollector()
	c.Warnf(IDInsecureRepository, "http://repo", "insecure repository skipped")
	c.Infof(IDConflict, "g:a", "1.0 -> 2.0")
	assert.False(t, c.Failed())
	assert.Len(t, c.Warnings(), 1)
	assert.Empty(t, c.Errors())

	c.Errorf(IDUnresolved, "g:a:1.0", "Unable to resolve dependency g:a:1.0")
	assert.True(t, c.Failed())
	assert.Len(t, c.Errors(), 1)
}

func TestCollector_DeterministicUnderConcurrency(t *testing.T) {
	subjects := []string{"c:c:1", "a:a:1", "b:b:1", "d:d:1"}
	run := func() []Diagnostic {
		c := NewCollector()
		var wg sync.WaitGroup
		for _, s := range subjects {
			wg.Add(1)
			go func(s string) {
				defer wg.Done()
				c.Errorf(IDUnresolved, s, "Unable to resolve dependency %s", s)
			}(s)
		}
		wg.Wait()
		return c.All()
	}
	first := run()
	require.Len(t, first, 4)
	assert.Equal(t, "a:a:1", first[0].Subject)
	assert.Equal(t, first, run())
}

func TestCollector_DropsExactDuplicates(t *testing.T) {
	c := NewCollector()
	d := Diagnostic{ID: IDCycle, Severity: Error, Subject: "a:a:1", Message: "cycle"}
	c.Add(d)
	c.Add(d)
	assert.Len(t, c.All(), 1)
}

func TestRender_Format(t *testing.T) {
	diags := []Diagnostic{
		{
			ID:       IDUnresolved,
			Severity: Error,
			Subject:  "org.junit.jupiter:junit-jupiter-api:9999",
			Message:  "Unable to resolve dependency org.junit.jupiter:junit-jupiter-api:9999",
			Detail: []string{
				"Unable to download checksums of file junit-jupiter-api-9999.pom",
				"Unable to download checksums of file junit-jupiter-api-9999.module",
			},
		},
		{ID: IDInsecureRepository, Severity: Warning, Message: "ignored"},
		{
			ID:       IDVariantMissing,
			Severity: Error,
			Subject:  "g:b:1",
			Message:  "No variant of g:b:1 for platform js",
			Chain:    []string{"g:a:1", "g:b:1"},
		},
	}

	want := "Unable to resolve dependencies for module app:\n\n" +
		"Unable to resolve dependency org.junit.jupiter:junit-jupiter-api:9999\n" +
		"  Unable to download checksums of file junit-jupiter-api-9999.pom\n" +
		"  Unable to download checksums of file junit-jupiter-api-9999.module\n\n" +
		"No variant of g:b:1 for platform js\n" +
		"  required by g:a:1"
	assert.Equal(t, want, Render("module app", diags))

	err := &ReportError{Moniker: "module app", Diagnostics: diags}
	assert.Equal(t, want, err.Error())
}

func TestSeverity_String(t *testing.T) {
	assert.Equal(t, "error", Error.String())
	assert.Equal(t, "warning", Warning.String())
	assert.Equal(t, "info", Info.String())
}
