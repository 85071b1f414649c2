package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", TruncateString("short", 10, false))
	assert.Equal(t, "exact", TruncateString("exact", 5, false))
	assert.Equal(t, "abcdefg...", TruncateString("abcdefghijk", 10, false))
	assert.Equal(t, "", TruncateString("anything", 0, false))
	assert.Equal(t, "..", TruncateString("anything", 2, false))
}

func TestTruncateStringPreservesWords(t *testing.T) {
	got := TruncateString("the quick brown fox jumps", 16, true)
	assert.Equal(t, "the quick...", got)
}

func TestTruncateStringUTF8Safe(t *testing.T) {
	got := TruncateString("日本語のテキストです", 8, false)
	assert.Equal(t, "日本語のテ...", got)
}
