// Package capture is the harness side of the healing engine: it turns live or
// parsed DOM elements into the ElementDescriptor snapshots the engine
// consumes. It is deliberately thin glue over chromedp; it is not a browser
// automation engine.
package capture

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/xkilldash9x/relock/api/schemas"
	"go.uber.org/zap"
)

// visibleTextLimit truncates captured element text.
const visibleTextLimit = 200

// elementProbe mirrors the JSON object produced by the in-page probe script.
type elementProbe struct {
	Box           schemas.BoundingBox    `json:"box"`
	Style         schemas.ComputedStyle  `json:"style"`
	Text          string                 `json:"text"`
	Ancestors     []schemas.AncestorInfo `json:"ancestors"`
	SiblingCount  int                    `json:"siblingCount"`
	IndexInParent int                    `json:"indexInParent"`
}

// probeScript collects geometry, style subset, visible text and the ancestor
// chain for the first element matching the selector.
const probeScript = `(() => {
	const el = document.querySelector(%s);
	if (!el) { return null; }
	const rect = el.getBoundingClientRect();
	const cs = getComputedStyle(el);
	const sameTagIndex = (n) => {
		let i = 0;
		for (let p = n.previousElementSibling; p; p = p.previousElementSibling) {
			if (p.tagName === n.tagName) { i++; }
		}
		return i;
	};
	const ancestors = [];
	for (let p = el.parentElement; p; p = p.parentElement) {
		ancestors.push({ tag: p.tagName.toLowerCase(), id: p.id || "", index: sameTagIndex(p) });
	}
	return {
		box: { x: rect.x, y: rect.y, width: rect.width, height: rect.height },
		style: {
			color: cs.color, backgroundColor: cs.backgroundColor,
			fontFamily: cs.fontFamily, fontSize: cs.fontSize, fontWeight: cs.fontWeight,
			border: cs.border, borderRadius: cs.borderRadius, zIndex: cs.zIndex
		},
		text: (el.innerText || "").slice(0, %d),
		ancestors: ancestors,
		siblingCount: el.parentElement ? el.parentElement.childElementCount : 0,
		indexInParent: sameTagIndex(el)
	};
})()`

// Snapshotter captures ElementDescriptors from a live page. The context
// passed to its methods must come from chromedp.NewContext.
type Snapshotter struct {
	log *zap.Logger
}

// NewSnapshotter creates a Snapshotter.
func NewSnapshotter(logger *zap.Logger) *Snapshotter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Snapshotter{log: logger.Named("capture")}
}

// Describe snapshots the first element matching the CSS selector.
func (s *Snapshotter) Describe(ctx context.Context, selector string) (schemas.ElementDescriptor, error) {
	var nodes []*cdp.Node
	if err := chromedp.Run(ctx,
		chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.AtLeast(1)),
	); err != nil {
		return schemas.ElementDescriptor{}, fmt.Errorf("failed to resolve element %q: %w", selector, err)
	}
	node := nodes[0]

	var probe *elementProbe
	script := fmt.Sprintf(probeScript, strconv.Quote(selector), visibleTextLimit)
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &probe)); err != nil {
		return schemas.ElementDescriptor{}, fmt.Errorf("failed to probe element %q: %w", selector, err)
	}
	if probe == nil {
		return schemas.ElementDescriptor{}, fmt.Errorf("element %q vanished between resolution and probe", selector)
	}

	el := schemas.ElementDescriptor{
		Tag:           strings.ToLower(node.NodeName),
		Attributes:    attributeMap(node),
		Text:          probe.Text,
		Box:           probe.Box,
		Style:         probe.Style,
		Ancestors:     probe.Ancestors,
		SiblingCount:  probe.SiblingCount,
		IndexInParent: probe.IndexInParent,
	}
	el.ID = el.Attributes["id"]
	if cls := el.Attributes["class"]; cls != "" {
		el.Classes = strings.Fields(cls)
	}

	s.log.Debug("Captured element snapshot",
		zap.String("selector", selector),
		zap.String("tag", el.Tag),
		zap.Int("ancestors", len(el.Ancestors)),
	)
	return el, nil
}

// attributeMap flattens a CDP node's attribute name/value pairs.
func attributeMap(node *cdp.Node) map[string]string {
	attrs := make(map[string]string, len(node.Attributes)/2)
	for i := 0; i+1 < len(node.Attributes); i += 2 {
		attrs[node.Attributes[i]] = node.Attributes[i+1]
	}
	return attrs
}

// RenderHasher produces coarse rendered-pixel fingerprints by screenshotting
// the element. It implements schemas.RenderSnapshotProvider for Healers whose
// callers run against a live page.
type RenderHasher struct {
	log *zap.Logger
}

// NewRenderHasher creates a RenderHasher.
func NewRenderHasher(logger *zap.Logger) *RenderHasher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RenderHasher{log: logger.Named("renderhash")}
}

var _ schemas.RenderSnapshotProvider = (*RenderHasher)(nil)

// Snapshot screenshots the element (located by its strongest available
// selector) and hashes the pixels.
func (r *RenderHasher) Snapshot(ctx context.Context, el schemas.ElementDescriptor) (schemas.RenderSnapshot, error) {
	selector := bestSelector(el)
	if selector == "" {
		return schemas.RenderSnapshot{}, fmt.Errorf("element has no usable selector for screenshotting")
	}

	var buf []byte
	if err := chromedp.Run(ctx, chromedp.Screenshot(selector, &buf, chromedp.ByQuery)); err != nil {
		return schemas.RenderSnapshot{}, fmt.Errorf("failed to screenshot %q: %w", selector, err)
	}

	h := fnv.New64a()
	_, _ = h.Write(buf)
	return schemas.RenderSnapshot{PixelHash: fmt.Sprintf("%016x", h.Sum64())}, nil
}

// bestSelector picks the most specific selector the descriptor supports.
func bestSelector(el schemas.ElementDescriptor) string {
	if v := el.Attr("data-testid"); v != "" {
		return fmt.Sprintf(`[data-testid=%q]`, v)
	}
	if el.ID != "" {
		return "#" + el.ID
	}
	if len(el.Classes) > 0 {
		return strings.ToLower(el.Tag) + "." + el.Classes[0]
	}
	if el.Tag != "" {
		return strings.ToLower(el.Tag)
	}
	return ""
}
