package capture

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/relock/api/schemas"
	"golang.org/x/net/html"
)

// FromFragment parses an HTML fragment and describes its first element. It is
// the offline counterpart of Snapshotter.Describe for callers that only have
// markup (test recordings, harness payloads) rather than a live page; box and
// style remain zero since no layout exists.
func FromFragment(fragment string) (schemas.ElementDescriptor, error) {
	root, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return schemas.ElementDescriptor{}, fmt.Errorf("failed to parse fragment: %w", err)
	}
	target := firstContentElement(root)
	if target == nil {
		return schemas.ElementDescriptor{}, fmt.Errorf("fragment contains no element")
	}
	return DescribeNode(target), nil
}

// DescribeNode builds an ElementDescriptor from a parsed node, walking its
// parent chain for the ancestor list.
func DescribeNode(n *html.Node) schemas.ElementDescriptor {
	attrs := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		attrs[a.Key] = a.Val
	}

	el := schemas.ElementDescriptor{
		Tag:           strings.ToLower(n.Data),
		ID:            attrs["id"],
		Attributes:    attrs,
		Text:          visibleText(n),
		SiblingCount:  childElementCount(n.Parent),
		IndexInParent: sameTagIndex(n),
	}
	if cls := attrs["class"]; cls != "" {
		el.Classes = strings.Fields(cls)
	}
	for p := n.Parent; p != nil && p.Type == html.ElementNode; p = p.Parent {
		el.Ancestors = append(el.Ancestors, schemas.AncestorInfo{
			Tag:   strings.ToLower(p.Data),
			ID:    nodeAttr(p, "id"),
			Index: sameTagIndex(p),
		})
	}
	return el
}

// firstContentElement descends past the html/head/body wrappers the parser
// synthesizes and returns the first real element.
func firstContentElement(n *html.Node) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			switch c.Data {
			case "html", "head", "body":
				if found := firstContentElement(c); found != nil {
					return found
				}
			default:
				return c
			}
		}
	}
	return nil
}

// visibleText concatenates descendant text nodes, collapsing whitespace.
func visibleText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
		for child := c.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	text := strings.Join(strings.Fields(sb.String()), " ")
	if len(text) > visibleTextLimit {
		text = text[:visibleTextLimit]
	}
	return text
}

func childElementCount(n *html.Node) int {
	if n == nil {
		return 0
	}
	count := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			count++
		}
	}
	return count
}

// nodeAttr returns the named attribute's value, empty when absent.
func nodeAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// sameTagIndex counts preceding element siblings with the same tag.
func sameTagIndex(n *html.Node) int {
	i := 0
	for p := n.PrevSibling; p != nil; p = p.PrevSibling {
		if p.Type == html.ElementNode && p.Data == n.Data {
			i++
		}
	}
	return i
}
