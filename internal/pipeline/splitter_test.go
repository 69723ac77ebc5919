package pipeline

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTextOverlap(t *testing.T) {
	text := strings.Repeat("abcdefghij", 25) // 250 runes
	chunks := SplitText(text, 100, 20)

	require.Len(t, chunks, 3)
	assert.Equal(t, 100, utf8.RuneCountInString(chunks[0]))
	assert.Equal(t, 100, utf8.RuneCountInString(chunks[1]))
	assert.Equal(t, 90, utf8.RuneCountInString(chunks[2]))
	// 每个分块的开头与上一个分块的结尾重叠
	assert.Equal(t, chunks[0][80:], chunks[1][:20])
}

func TestSplitTextMultibyte(t *testing.T) {
	text := strings.Repeat("简历", 30) // 60 runes
	chunks := SplitText(text, 25, 5)
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c))
	}
	assert.Equal(t, text, JoinChunks(chunks, 5))
}

func TestSplitTextEdgeCases(t *testing.T) {
	assert.Nil(t, SplitText("", 100, 10))
	assert.Equal(t, []string{"short"}, SplitText("short", 100, 10))
	assert.Equal(t, []string{"abc", "def", "g"}, SplitText("abcdefg", 3, 3), "无效重叠退化为无重叠切分")
}

func TestJoinChunksRoundTrip(t *testing.T) {
	text := "Jane Doe\nStaff Engineer at Acme (2021-present)\nSkills: Go, Kafka, Elasticsearch\nEducation: BSc Computer Science"
	for _, size := range []int{10, 17, 50, 200} {
		chunks := SplitText(text, size, 4)
		assert.Equal(t, text, JoinChunks(chunks, 4), "size=%d", size)
	}
}
