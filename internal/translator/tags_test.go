package translator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTags(t *testing.T) {
	clean, tags := splitTags(`{\an8}Hello {\i1}world{\i0}`)
	assert.Equal(t, "Hello world", clean)
	require.Len(t, tags, 3)
	assert.Equal(t, 0, tags[0].Offset)
	assert.Equal(t, `{\an8}`, tags[0].Text)
	assert.Equal(t, 6, tags[1].Offset)
	assert.Equal(t, `{\i1}`, tags[1].Text)
	assert.Equal(t, 11, tags[2].Offset)
}

func TestSplitTagsNoTags(t *testing.T) {
	clean, tags := splitTags("plain text")
	assert.Equal(t, "plain text", clean)
	assert.Empty(t, tags)
}

func TestSplitTagsUnclosedBrace(t *testing.T) {
	clean, tags := splitTags("text with { stray brace")
	assert.Equal(t, "text with { stray brace", clean)
	assert.Empty(t, tags)
}

func TestReinsertTagsProportional(t *testing.T) {
	clean, tags := splitTags(`{\an8}Hello world`)
	require.Equal(t, "Hello world", clean)

	out := reinsertTags("Hallo Welt", len([]rune(clean)), tags)
	assert.Equal(t, `{\an8}Hallo Welt`, out)
}

func TestReinsertTagsSnapsToWordBoundary(t *testing.T) {
	// Tag sits mid-word in the source; after proportional mapping it must
	// land on a space in the translation, not inside a word.
	clean, tags := splitTags(`Hello {\i1}world`)
	out := reinsertTags("Bonjour le monde", len([]rune(clean)), tags)
	assert.NotContains(t, out, `Bonj{\i1}`)
	assert.Contains(t, out, `{\i1}`)
}

func TestReinsertTagsEmptyTranslation(t *testing.T) {
	_, tags := splitTags(`{\pos(10,20)}sign`)
	out := reinsertTags("", 4, tags)
	assert.Equal(t, `{\pos(10,20)}`, out)
}

func TestHasPositioning(t *testing.T) {
	assert.True(t, hasPositioning(`{\pos(640,360)}Sign text`))
	assert.True(t, hasPositioning(`{\move(0,0,100,100)}floating`))
	assert.True(t, hasPositioning(`{\org(320,240)\frz30}rotated`))
	assert.False(t, hasPositioning(`{\i1}just italics{\i0}`))
	assert.False(t, hasPositioning("no tags"))
}

func TestStripMarkup(t *testing.T) {
	assert.Equal(t, "Hello world", StripMarkup("<i>Hello</i> <b>world</b>"))
	assert.Equal(t, "colored", StripMarkup(`<font color="#ff0000">colored</font>`))
	assert.Equal(t, "plain", StripMarkup("plain"))
}

func TestStripHearingImpaired(t *testing.T) {
	assert.Equal(t, "Hello there", StripHearingImpaired("[door creaks] Hello there"))
	assert.Equal(t, "Hello", StripHearingImpaired("(sighs) Hello"))
	assert.Equal(t, "Wait for me!", StripHearingImpaired("JOHN: Wait for me!"))
	assert.Equal(t, "lowercase: not a label", StripHearingImpaired("lowercase: not a label"))
}

func TestSnapToWordBoundary(t *testing.T) {
	runes := []rune("ab cd ef")
	assert.Equal(t, 3, snapToWordBoundary(runes, 4, 3))
	assert.Equal(t, 0, snapToWordBoundary(runes, 0, 3))
	assert.Equal(t, 8, snapToWordBoundary(runes, 8, 3))
	// No boundary within radius keeps the original position.
	long := []rune("abcdefghijkl")
	assert.Equal(t, 6, snapToWordBoundary(long, 6, 3))
}
