package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases scheme and host", "HTTPS://Shop.Example/Products", "https://shop.example/Products"},
		{"strips default https port", "https://shop.example:443/a", "https://shop.example/a"},
		{"strips default http port", "http://shop.example:80/a", "http://shop.example/a"},
		{"keeps explicit port", "https://shop.example:8443/a", "https://shop.example:8443/a"},
		{"strips fragment", "https://shop.example/a#reviews", "https://shop.example/a"},
		{"adds root slash", "https://shop.example", "https://shop.example/"},
		{"drops trailing slash", "https://shop.example/a/", "https://shop.example/a"},
		{"sorts query parameters", "https://shop.example/a?page=2&color=red", "https://shop.example/a?color=red&page=2"},
		{"trims whitespace", "  https://shop.example/a ", "https://shop.example/a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeURL(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeURL_CollapsesVariants(t *testing.T) {
	t.Parallel()
	variants := []string{
		"https://Shop.Example/a?b=1&a=2",
		"HTTPS://shop.example:443/a/?a=2&b=1",
		"https://shop.example/a?a=2&b=1#frag",
	}
	first, err := NormalizeURL(variants[0])
	require.NoError(t, err)
	for _, v := range variants[1:] {
		got, err := NormalizeURL(v)
		require.NoError(t, err)
		require.Equal(t, first, got)
	}
}

func TestNormalizeURL_Rejects(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"ftp://shop.example/a", "not a url at all\x7f", "/relative/path", "https://"} {
		_, err := NormalizeURL(in)
		require.Error(t, err, "input %q", in)
	}
}

func TestDomainOf(t *testing.T) {
	t.Parallel()
	got, err := DomainOf("https://Shop.Example:8443/a")
	require.NoError(t, err)
	require.Equal(t, "shop.example", got)

	_, err = DomainOf("nonsense://")
	require.Error(t, err)
}
