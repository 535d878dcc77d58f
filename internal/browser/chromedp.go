package browser

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

const xpathPrefix = "xpath="

// locatorJS builds a JS expression that resolves sel to an array of elements.
// CSS selectors go through querySelectorAll; "xpath=" selectors through
// document.evaluate.
func locatorJS(sel string) string {
	if xp, ok := strings.CutPrefix(sel, xpathPrefix); ok {
		return fmt.Sprintf(`(() => {
			const out = [];
			const r = document.evaluate(%s, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
			for (let i = 0; i < r.snapshotLength; i++) out.push(r.snapshotItem(i));
			return out;
		})()`, strconv.Quote(xp))
	}
	return fmt.Sprintf(`Array.from(document.querySelectorAll(%s))`, strconv.Quote(sel))
}

// queryOpts maps a selector to chromedp's native addressing for actions that
// go through the DOM domain rather than script evaluation.
func queryOpts(sel string) (string, chromedp.QueryOption) {
	if xp, ok := strings.CutPrefix(sel, xpathPrefix); ok {
		return xp, chromedp.BySearch
	}
	return sel, chromedp.ByQuery
}

// page is the chromedp-backed Page. One page owns one browser tab attached
// to a persistent profile; the manager cancels the tab on release.
type page struct {
	ctx        context.Context
	cancel     context.CancelFunc
	profileDir string
}

var _ Page = (*page)(nil)

func (p *page) run(ctx context.Context, actions ...chromedp.Action) error {
	if deadline, ok := ctx.Deadline(); ok {
		runCtx, cancel := context.WithDeadline(p.ctx, deadline)
		defer cancel()
		return chromedp.Run(runCtx, actions...)
	}
	return chromedp.Run(p.ctx, actions...)
}

func (p *page) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitVisible("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (p *page) Location(ctx context.Context) (string, error) {
	var url string
	if err := p.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return url, nil
}

func (p *page) WaitVisible(ctx context.Context, sel string) error {
	q, opt := queryOpts(sel)
	if err := p.run(ctx, chromedp.WaitVisible(q, opt)); err != nil {
		return fmt.Errorf("wait visible %s: %w", sel, err)
	}
	return nil
}

func (p *page) Count(ctx context.Context, sel string) (int, error) {
	var n int
	expr := fmt.Sprintf(`%s.length`, locatorJS(sel))
	if err := p.run(ctx, chromedp.Evaluate(expr, &n)); err != nil {
		return 0, fmt.Errorf("count %s: %w", sel, err)
	}
	return n, nil
}

func (p *page) Text(ctx context.Context, sel string, idx int) (string, error) {
	var res struct {
		Found bool   `json:"found"`
		Text  string `json:"text"`
	}
	expr := fmt.Sprintf(`(() => {
		const el = %s[%d];
		if (!el) return {found: false, text: ""};
		return {found: true, text: (el.innerText || el.textContent || "").trim()};
	})()`, locatorJS(sel), idx)
	if err := p.run(ctx, chromedp.Evaluate(expr, &res)); err != nil {
		return "", fmt.Errorf("read text %s[%d]: %w", sel, idx, err)
	}
	if !res.Found {
		return "", fmt.Errorf("read text %s[%d]: element not found", sel, idx)
	}
	return res.Text, nil
}

func (p *page) Visible(ctx context.Context, sel string, idx int) (bool, error) {
	var visible bool
	expr := fmt.Sprintf(`(() => {
		const el = %s[%d];
		if (!el) return false;
		const rect = el.getBoundingClientRect();
		return rect.width > 0 && rect.height > 0;
	})()`, locatorJS(sel), idx)
	if err := p.run(ctx, chromedp.Evaluate(expr, &visible)); err != nil {
		return false, fmt.Errorf("check visible %s[%d]: %w", sel, idx, err)
	}
	return visible, nil
}

func (p *page) Attribute(ctx context.Context, sel string, idx int, name string) (string, bool, error) {
	var res struct {
		Present bool   `json:"present"`
		Value   string `json:"value"`
	}
	expr := fmt.Sprintf(`(() => {
		const el = %s[%d];
		if (!el || !el.hasAttribute(%s)) return {present: false, value: ""};
		return {present: true, value: el.getAttribute(%s)};
	})()`, locatorJS(sel), idx, strconv.Quote(name), strconv.Quote(name))
	if err := p.run(ctx, chromedp.Evaluate(expr, &res)); err != nil {
		return "", false, fmt.Errorf("read attribute %s of %s[%d]: %w", name, sel, idx, err)
	}
	return res.Value, res.Present, nil
}

func (p *page) Click(ctx context.Context, sel string) error {
	q, opt := queryOpts(sel)
	if err := p.run(ctx,
		chromedp.WaitVisible(q, opt),
		pacePause(),
		chromedp.Click(q, opt),
	); err != nil {
		return fmt.Errorf("click %s: %w", sel, err)
	}
	return nil
}

func (p *page) Type(ctx context.Context, sel, text string) error {
	q, opt := queryOpts(sel)
	actions := []chromedp.Action{
		chromedp.WaitVisible(q, opt),
		chromedp.Click(q, opt),
	}
	actions = append(actions, humanKeystrokes(text)...)
	if err := p.run(ctx, actions...); err != nil {
		return fmt.Errorf("type into %s: %w", sel, err)
	}
	return nil
}

func (p *page) Hover(ctx context.Context, sel string, idx int) error {
	var rect struct {
		Found bool    `json:"found"`
		X     float64 `json:"x"`
		Y     float64 `json:"y"`
	}
	expr := fmt.Sprintf(`(() => {
		const el = %s[%d];
		if (!el) return {found: false, x: 0, y: 0};
		el.scrollIntoView({block: "center"});
		const r = el.getBoundingClientRect();
		return {found: true, x: r.x + r.width / 2, y: r.y + r.height / 2};
	})()`, locatorJS(sel), idx)
	if err := p.run(ctx,
		chromedp.Evaluate(expr, &rect),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if !rect.Found {
				return fmt.Errorf("element not found")
			}
			return input.DispatchMouseEvent(input.MouseMoved, rect.X, rect.Y).Do(ctx)
		}),
	); err != nil {
		return fmt.Errorf("hover %s[%d]: %w", sel, idx, err)
	}
	return nil
}

func (p *page) MoveMouse(ctx context.Context, x, y float64) error {
	if err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return input.DispatchMouseEvent(input.MouseMoved, x, y).Do(ctx)
	})); err != nil {
		return fmt.Errorf("move mouse: %w", err)
	}
	return nil
}

func (p *page) Evaluate(ctx context.Context, expr string, out any) error {
	if err := p.run(ctx, chromedp.Evaluate(expr, out)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

func (p *page) Cookies(ctx context.Context) ([]Cookie, error) {
	var out []Cookie
	if err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cks, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, ck := range cks {
			out = append(out, Cookie{
				Name:     ck.Name,
				Value:    ck.Value,
				Domain:   ck.Domain,
				Path:     ck.Path,
				Expires:  ck.Expires,
				HTTPOnly: ck.HTTPOnly,
				Secure:   ck.Secure,
				SameSite: ck.SameSite.String(),
			})
		}
		return nil
	})); err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	return out, nil
}

func (p *page) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}
