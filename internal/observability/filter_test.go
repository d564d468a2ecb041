package observability

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentFilter_FilterValue_TruncatesLongStrings(t *testing.T) {
	f := DefaultContentFilter()
	f.MaxContentLength = 10

	got := f.FilterValue("this is a very long string")
	assert.Equal(t, "this is a ...[truncated]", got)
}

func TestContentFilter_FilterValue_FiltersBase64DataURI(t *testing.T) {
	f := DefaultContentFilter()

	got := f.FilterValue("data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAUA")
	assert.Equal(t, "[base64_content_filtered]", got)
}

func TestContentFilter_FilterValue_RecursesIntoMaps(t *testing.T) {
	f := DefaultContentFilter()
	f.MaxContentLength = 0

	got := f.FilterValue(map[string]any{
		"role":    "user",
		"content": "hello",
	})

	m, ok := got.(map[string]any)
	assert.True(t, ok)
	assert.Equal(t, "hello", m["content"])
}

func TestLabelFilterManager_GetFilter_UsesDefaultWhenUnconfigured(t *testing.T) {
	mgr := NewLabelFilterManager(nil)
	filter := mgr.GetFilter("unknown_metric")
	assert.True(t, filter.ShouldIncludeLabel("anything"))
}

func TestLabelFilter_FilterLabels_IncludeExclude(t *testing.T) {
	f := &LabelFilter{IncludeLabels: []string{"transport", "state"}, ExcludeLabels: []string{"state"}}

	got := f.FilterLabels(map[string]string{"transport": "http", "state": "open", "extra": "x"})
	assert.Equal(t, map[string]string{"transport": "http"}, got)
}

func TestContentFilter_FilterValue_ShortStringUnaffected(t *testing.T) {
	f := DefaultContentFilter()
	got := f.FilterValue("short")
	assert.False(t, strings.Contains(got.(string), "truncated"))
}
