package page

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func parse(t *testing.T, doc string) *html.Node {
	t.Helper()
	root, err := html.Parse(strings.NewReader(doc))
	require.NoError(t, err)
	return root
}

const sampleDoc = `<html><body>
	<div class="g-recaptcha widget" data-sitekey="key-1"></div>
	<div class="h-captcha" data-sitekey="key-2"></div>
	<iframe src="https://www.google.com/recaptcha/api2/anchor?k=key-3"></iframe>
	<script src="https://www.google.com/recaptcha/api.js?render=key-4"></script>
	<span data-sitekey=""></span>
</body></html>`

func TestAttr(t *testing.T) {
	root := parse(t, sampleDoc)

	n := FindFirst(root, ByClass("g-recaptcha"))
	require.NotNil(t, n)

	v, ok := Attr(n, "data-sitekey")
	assert.True(t, ok)
	assert.Equal(t, "key-1", v)

	_, ok = Attr(n, "data-callback")
	assert.False(t, ok)
}

func TestHasClass(t *testing.T) {
	root := parse(t, sampleDoc)
	n := FindFirst(root, ByClass("g-recaptcha"))
	require.NotNil(t, n)

	assert.True(t, HasClass(n, "widget"))
	assert.False(t, HasClass(n, "widge"), "token match, not substring match")
}

func TestByTagCaseInsensitive(t *testing.T) {
	root := parse(t, sampleDoc)
	assert.NotNil(t, FindFirst(root, ByTag("IFRAME")))
}

func TestByAttrMatchesEmptyValue(t *testing.T) {
	root := parse(t, sampleDoc)
	nodes := FindAll(root, ByAttr("data-sitekey"))
	// Empty-valued attributes still count as present.
	assert.Len(t, nodes, 3)
}

func TestByAttrContains(t *testing.T) {
	root := parse(t, sampleDoc)

	frames := FindAll(root, And(ByTag("iframe"), ByAttrContains("src", "recaptcha")))
	require.Len(t, frames, 1)

	none := FindAll(root, ByAttrContains("src", "hcaptcha"))
	assert.Empty(t, none)
}

func TestFindAllDocumentOrder(t *testing.T) {
	root := parse(t, sampleDoc)
	nodes := FindAll(root, ByAttr("data-sitekey"))
	require.Len(t, nodes, 3)

	first, _ := Attr(nodes[0], "data-sitekey")
	second, _ := Attr(nodes[1], "data-sitekey")
	assert.Equal(t, "key-1", first)
	assert.Equal(t, "key-2", second)
}

func TestFindFirstNilRoot(t *testing.T) {
	assert.Nil(t, FindFirst(nil, ByTag("div")))
	assert.Empty(t, FindAll(nil, ByTag("div")))
}
