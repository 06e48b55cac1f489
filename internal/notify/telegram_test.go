package notify

import (
	"strings"
	"testing"
)

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello World"},
		{"Hello_World", "Hello\\_World"},
		{"Test*bold*", "Test\\*bold\\*"},
		{"Price: $100.50", "Price: $100\\.50"},
		{"[link](url)", "\\[link\\]\\(url\\)"},
		{"Will BTC close > $100k?", "Will BTC close \\> $100k?"},
		{"yes+no=1", "yes\\+no\\=1"},
		{"", ""},
		{"_*[]()~`>#+-=|{}.!", "\\_\\*\\[\\]\\(\\)\\~\\`\\>\\#\\+\\-\\=\\|\\{\\}\\.\\!"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := escapeMarkdownV2(tt.input); got != tt.expected {
				t.Errorf("escapeMarkdownV2(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestChunkMessage(t *testing.T) {
	t.Run("short message is one chunk", func(t *testing.T) {
		chunks := chunkMessage("hello", 100)
		if len(chunks) != 1 || chunks[0] != "hello" {
			t.Errorf("got %v, want [hello]", chunks)
		}
	})

	t.Run("splits on line boundaries", func(t *testing.T) {
		text := strings.TrimSuffix(strings.Repeat("0123456789\n", 20), "\n")
		chunks := chunkMessage(text, 100)
		if len(chunks) < 3 {
			t.Fatalf("got %d chunks, want at least 3", len(chunks))
		}
		for i, chunk := range chunks {
			if len(chunk) > 100 {
				t.Errorf("chunk %d is %d bytes, want ≤ 100", i, len(chunk))
			}
		}
		if strings.Join(chunks, "\n") != text {
			t.Error("chunks do not reassemble to the original text")
		}
	})

	t.Run("hard-splits a single long line", func(t *testing.T) {
		text := strings.Repeat("x", 250)
		chunks := chunkMessage(text, 100)
		if len(chunks) != 3 {
			t.Fatalf("got %d chunks, want 3", len(chunks))
		}
		if strings.Join(chunks, "") != text {
			t.Error("chunks do not reassemble to the original text")
		}
	})
}

func TestNewTelegramSink_InvalidChatID(t *testing.T) {
	if _, err := NewTelegramSink("", "not-a-number"); err == nil {
		t.Error("expected error for invalid chat ID")
	}
}
