package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	classifier, err := NewClassifier(nil)
	require.NoError(t, err)

	const website = "https://site.test"

	tests := []struct {
		name string
		link string
		want LinkKind
	}{
		{"same_host_page", "https://site.test/about", KindPage},
		{"website_itself", "https://site.test", KindPage},
		{"outbound", "https://other.test/", KindOutbound},
		{"other_scheme_is_outbound", "http://site.test/about", KindOutbound},
		{"same_host_media", "https://site.test/img/logo.png", KindMedia},
		{"outbound_media", "https://cdn.test/video.mp4", KindMedia},
		{"media_with_query", "https://site.test/photo.jpg?v=2", KindMedia},
		{"uppercase_extension_is_not_media", "https://site.test/PHOTO.JPG", KindPage},
		{"pdf_is_not_media", "https://site.test/file.pdf", KindPage},
		{"mailto", "mailto:a@b.com", KindIgnored},
		{"telegram", "https://t.me/share?url=x", KindIgnored},
		{"telegram_me", "https://telegram.me/channel", KindIgnored},
		{"vk_share", "http://vk.com/share.php?url=x", KindIgnored},
		{"whatsapp", "whatsapp://send?text=x", KindIgnored},
		{"ignored_wins_over_media", "https://t.me/pic.png", KindIgnored},
		{"tel", "tel:+123456", KindIgnored},
		{"javascript", "javascript:void(0)", KindIgnored},
		{"sms", "sms:+123456", KindIgnored},
		{"ftp", "ftp://files.test/report.png", KindIgnored},
		{"data_uri", "data:image/png;base64,AAAA", KindIgnored},
		{"skype", "skype:someone?call", KindIgnored},
		{"uppercase_http_scheme_is_checked", "HTTPS://other.test/", KindOutbound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, err := classifier.Classify(tt.link, website)
			require.NoError(t, err)
			assert.Equal(t, tt.want, kind, "got %s", kind)
		})
	}
}

func TestClassifyUnparseableLink(t *testing.T) {
	classifier, err := NewClassifier(nil)
	require.NoError(t, err)

	kind, err := classifier.Classify("https://site.test/%zz.png", "https://site.test")
	assert.Error(t, err)
	assert.Equal(t, KindPage, kind)

	kind, err = classifier.Classify("https://other.test/%zz", "https://site.test")
	assert.Error(t, err)
	assert.Equal(t, KindOutbound, kind)
}

func TestClassifierIgnorePatterns(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IgnoredPatterns = []string{"https://site.test/admin/*", "  ", "*.zip"}

	classifier, err := NewClassifier(cfg)
	require.NoError(t, err)

	assert.True(t, classifier.IsIgnored("https://site.test/admin/users"))
	assert.True(t, classifier.IsIgnored("https://site.test/dl/archive.zip"))
	assert.False(t, classifier.IsIgnored("https://site.test/about"))
}

func TestClassifierInvalidPattern(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IgnoredPatterns = []string{"[unclosed"}

	_, err := NewClassifier(cfg)
	assert.Error(t, err)
}

func TestIsMediaCustomExtensions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MediaExtensions = []string{".webp"}

	classifier, err := NewClassifier(cfg)
	require.NoError(t, err)

	isMedia, err := classifier.IsMedia("https://site.test/a.webp")
	require.NoError(t, err)
	assert.True(t, isMedia)

	isMedia, err = classifier.IsMedia("https://site.test/a.png")
	require.NoError(t, err)
	assert.False(t, isMedia)
}

func TestLinkKindString(t *testing.T) {
	assert.Equal(t, "page", KindPage.String())
	assert.Equal(t, "media", KindMedia.String())
	assert.Equal(t, "outbound", KindOutbound.String())
	assert.Equal(t, "ignored", KindIgnored.String())
	assert.Equal(t, "unknown", LinkKind(42).String())
}
