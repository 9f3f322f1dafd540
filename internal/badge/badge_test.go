package badge

import (
	"strings"
	"testing"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/ratiometer/page"
	"github.com/hazyhaar/ratiometer/settings"
	"github.com/hazyhaar/ratiometer/tier"
)

// fakeElement records mount operations for assertions.
type fakeElement struct {
	removed  []string
	inserted map[string]string // anchor selector -> html
	appended map[string]string // container selector -> html
}

func newFakeElement() *fakeElement {
	return &fakeElement{
		inserted: make(map[string]string),
		appended: make(map[string]string),
	}
}

func (f *fakeElement) Handle() string     { return "el-1" }
func (f *fakeElement) Tag() string        { return "ytd-video-renderer" }
func (f *fakeElement) Href(string) string { return "" }
func (f *fakeElement) Text(string) string { return "" }
func (f *fakeElement) InsertBefore(anchor, h string) error {
	f.inserted[anchor] = h
	return nil
}
func (f *fakeElement) AppendInto(container, h string) error {
	f.appended[container] = h
	return nil
}
func (f *fakeElement) RemoveAll(selector string) error {
	f.removed = append(f.removed, selector)
	return nil
}

var _ page.Element = (*fakeElement)(nil)

func parseFragment(t *testing.T, fragment string) *html.Node {
	t.Helper()
	nodes, err := html.ParseFragment(strings.NewReader(fragment), &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
	if err != nil {
		t.Fatalf("parse fragment: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("fragment should be a single root node, got %d", len(nodes))
	}
	return nodes[0]
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// lineTexts collects the text of each tier-data-line div.
func lineTexts(n *html.Node) []string {
	var out []string
	var walk func(*html.Node)
	var text func(*html.Node) string
	text = func(n *html.Node) string {
		if n.Type == html.TextNode {
			return n.Data
		}
		var b strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			b.WriteString(text(c))
		}
		return b.String()
	}
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && strings.Contains(attr(n, "class"), "tier-data-line") {
			out = append(out, text(n))
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func TestBuild_AllLines(t *testing.T) {
	// WHAT: With everything enabled, the fragment carries the five data
	// lines in order, labels included, votes with thousands separators.
	data := tier.Classify(950, 50, 100000)
	root := parseFragment(t, Build(data, settings.Defaults(), Thumbnail))

	class := attr(root, "class")
	for _, want := range []string{RootClass, "tier-a-plus", ThumbnailClass} {
		if !strings.Contains(class, want) {
			t.Errorf("root class %q missing %q", class, want)
		}
	}

	got := lineTexts(root)
	want := []string{
		"Tier:A+",
		"Like Ratio:95.0%",
		"Rating:7.5/10",
		"Total Votes:1,000",
		"Engagement Rate:1.00%",
	}
	if len(got) != len(want) {
		t.Fatalf("lines: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBuild_FlagGating(t *testing.T) {
	// WHAT: Turning one flag off removes exactly that line.
	data := tier.Classify(950, 50, 100000)
	display := settings.Defaults()
	display.ShowVotes = false

	got := lineTexts(parseFragment(t, Build(data, display, Thumbnail)))
	for _, line := range got {
		if strings.HasPrefix(line, "Total Votes") {
			t.Errorf("votes line should be gone: %v", got)
		}
	}
	if len(got) != 4 {
		t.Errorf("lines: got %d, want 4", len(got))
	}
}

func TestBuild_NoLabels(t *testing.T) {
	// WHAT: ShowLabels=false drops label spans but keeps values.
	data := tier.Classify(100, 0, 0)
	display := settings.Defaults()
	display.ShowLabels = false

	fragment := Build(data, display, Thumbnail)
	if strings.Contains(fragment, "tier-label") {
		t.Error("label spans should be absent")
	}
	if !strings.Contains(fragment, "PERFECT") {
		t.Error("values should remain")
	}
}

func TestBuild_SuppressesNAValues(t *testing.T) {
	// WHAT: "N/A" values are suppressed regardless of their flag.
	// WHY: A zero-vote item should show an empty badge frame, not noise.
	data := tier.Classify(0, 0, 0)
	got := lineTexts(parseFragment(t, Build(data, settings.Defaults(), Thumbnail)))
	if len(got) != 0 {
		t.Errorf("zero-vote badge should have no lines, got %v", got)
	}
}

func TestBuild_WatchBarIdentity(t *testing.T) {
	// WHAT: The watch-bar variant carries the fixed id; the thumbnail
	// variant carries its marker class instead.
	data := tier.Classify(88, 12, 0)

	watch := parseFragment(t, Build(data, settings.Defaults(), WatchBar))
	if attr(watch, "id") != WatchBarID {
		t.Errorf("watch id: got %q", attr(watch, "id"))
	}

	thumb := parseFragment(t, Build(data, settings.Defaults(), Thumbnail))
	if attr(thumb, "id") != "" {
		t.Error("thumbnail badge should not carry the watch id")
	}
	if !strings.Contains(attr(thumb, "class"), ThumbnailClass) {
		t.Error("thumbnail badge missing marker class")
	}
}

func TestRender_IdempotentMount(t *testing.T) {
	// WHAT: Render removes prior badges first, then mounts per render type.
	data := tier.Classify(950, 50, 0)
	var r Renderer

	el := newFakeElement()
	if err := r.Render(el, data, Thumbnail, settings.Defaults()); err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(el.removed) != 1 || el.removed[0] != "."+RootClass {
		t.Errorf("removal: got %v", el.removed)
	}
	if _, ok := el.appended["#meta, #details"]; !ok {
		t.Errorf("thumbnail mount: got %v", el.appended)
	}

	el = newFakeElement()
	if err := r.Render(el, data, WatchBar, settings.Defaults()); err != nil {
		t.Fatalf("render: %v", err)
	}
	if _, ok := el.inserted["#actions"]; !ok {
		t.Errorf("watch-bar mount: got %v", el.inserted)
	}
}
