package service

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"video_notifier/internal/domain"
)

func TestRenderText(t *testing.T) {
	tests := []struct {
		name string
		item domain.Item
		want string
	}{
		{
			name: "title and source",
			item: domain.Item{Title: "New video", SourceTitle: "Channel", URL: "https://youtu.be/a"},
			want: "New video, <i>Channel</i>\nhttps://youtu.be/a",
		},
		{
			name: "source already in title",
			item: domain.Item{Title: "Channel: episode 3", SourceTitle: "Channel", URL: "https://youtu.be/b"},
			want: "Channel: episode 3\nhttps://youtu.be/b",
		},
		{
			name: "markup is escaped",
			item: domain.Item{Title: "<b>Tom & Jerry</b>", SourceTitle: "A<B", URL: "https://youtu.be/c"},
			want: "&lt;b&gt;Tom &amp; Jerry&lt;/b&gt;, <i>A&lt;B</i>\nhttps://youtu.be/c",
		},
		{
			name: "empty title",
			item: domain.Item{SourceTitle: "Channel", URL: "https://youtu.be/d"},
			want: "<i>Channel</i>\nhttps://youtu.be/d",
		},
		{
			name: "nothing but url",
			item: domain.Item{URL: "https://youtu.be/e"},
			want: "https://youtu.be/e",
		},
		{
			name: "url query is escaped",
			item: domain.Item{Title: "Clip", URL: "https://www.youtube.com/watch?v=f&t=42"},
			want: "Clip\nhttps://www.youtube.com/watch?v=f&amp;t=42",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, renderText(&tt.item))
		})
	}
}

func TestRenderCaption(t *testing.T) {
	item := domain.Item{Title: "Short", SourceTitle: "Channel", URL: "https://youtu.be/a"}
	assert.Equal(t, "Short, Channel\nhttps://youtu.be/a", renderCaption(&item))

	untitled := domain.Item{SourceTitle: "Channel", URL: "https://youtu.be/b"}
	assert.Equal(t, "Channel\nhttps://youtu.be/b", renderCaption(&untitled))

	bare := domain.Item{URL: "https://youtu.be/c"}
	assert.Equal(t, "https://youtu.be/c", renderCaption(&bare))

	long := domain.Item{Title: strings.Repeat("я", 300), SourceTitle: "Channel", URL: "https://youtu.be/long"}
	caption := renderCaption(&long)

	assert.Equal(t, captionLimit, utf8.RuneCountInString(caption))
	assert.True(t, strings.HasSuffix(caption, "...\nhttps://youtu.be/long"))
}

func TestEllipsize(t *testing.T) {
	assert.Equal(t, "abc", ellipsize("abc", 3))
	assert.Equal(t, "ab", ellipsize("abcdef", 2))
	assert.Equal(t, "a...", ellipsize("abcdef", 4))
	assert.Equal(t, "", ellipsize("abcdef", -1))
}
