package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleTokenizer_Tokenize(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, types := tok.Tokenize("hello world", 10)
	require.Len(t, ids, 10)
	assert.Len(t, types, 10)
	assert.Equal(t, int64(tokenCLS), ids[0])
	assert.Equal(t, int64(tokenSEP), ids[3])
	assert.Equal(t, []int64{1, 1, 1, 1, 0, 0, 0, 0, 0, 0}, attn)
}

func TestSimpleTokenizer_Truncates(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, _, _ := tok.Tokenize("a b c d e f g h", 4)
	require.Len(t, ids, 4)
	assert.Equal(t, int64(tokenSEP), ids[3])
}

func TestSplitWords(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SplitWords("  a \n b\tc  "))
	assert.Nil(t, SplitWords("   "))
}

func TestHashString(t *testing.T) {
	assert.Equal(t, HashString("abc"), HashString("abc"))
	assert.NotEqual(t, HashString("abc"), HashString("abd"))
	assert.GreaterOrEqual(t, HashString("anything"), 0)
}
