// File: pkg/locator/strategies.go
package locator

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/tagsentry/api/schemas"
	"github.com/xkilldash9x/tagsentry/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Evaluator runs a JavaScript expression in the page and unmarshals the
// result. The browser session satisfies this; tests use a fake.
type Evaluator interface {
	Evaluate(ctx context.Context, expr string, out any) error
}

// defaultInteractive scopes candidate enumeration when no role hint is given.
const defaultInteractive = "a[href], button, [role=button], [role=link], input, [onclick], [tabindex]"

// jsHelpers is the prelude shared by every in-page strategy. cssPath builds
// a unique nth-of-type selector so the driver can re-find the element after
// the lookup returns.
const jsHelpers = `
    const visible = (el) => {
        const r = el.getBoundingClientRect();
        const st = getComputedStyle(el);
        return r.width > 0 && r.height > 0 && st.visibility !== 'hidden' && st.display !== 'none';
    };
    const interactable = (el) => visible(el) && !el.disabled;
    const elText = (el) => ((el.innerText || el.textContent || el.value || '') + '').trim();
    const cssPath = (el) => {
        const parts = [];
        while (el && el.nodeType === Node.ELEMENT_NODE && el !== document.documentElement) {
            let part = el.nodeName.toLowerCase();
            if (el.id) {
                parts.unshift(part + '#' + CSS.escape(el.id));
                return parts.join(' > ');
            }
            let nth = 1, sib = el;
            while ((sib = sib.previousElementSibling)) {
                if (sib.nodeName === el.nodeName) nth++;
            }
            parts.unshift(part + ':nth-of-type(' + nth + ')');
            el = el.parentElement;
        }
        parts.unshift('html');
        return parts.join(' > ');
    };
    const emit = (els) => els.map(el => ({ selector: cssPath(el), text: elText(el) }));
`

func jsString(s string) string {
	out, err := json.MarshalToString(s)
	if err != nil {
		return `""`
	}
	return out
}

func roleSelector(cfg config.LocatorConfig, role schemas.Role) string {
	if sel, ok := cfg.RoleSelectors[string(role)]; ok && sel != "" {
		return sel
	}
	return defaultInteractive
}

// run evaluates a strategy body (which must assign its element array to
// `found`) and decodes the resulting candidates.
func run(ctx context.Context, ev Evaluator, body string) ([]Candidate, error) {
	expr := fmt.Sprintf("(() => {%s\n%s\nreturn JSON.stringify(emit(found));})()", jsHelpers, body)

	var raw string
	if err := ev.Evaluate(ctx, expr, &raw); err != nil {
		return nil, err
	}
	var out []Candidate
	if err := json.UnmarshalFromString(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode candidates: %w", err)
	}
	return out, nil
}

// -- exact text --

type exactTextStrategy struct {
	ev  Evaluator
	cfg config.LocatorConfig
}

func newExactTextStrategy(ev Evaluator, cfg config.LocatorConfig) *exactTextStrategy {
	return &exactTextStrategy{ev: ev, cfg: cfg}
}

func (s *exactTextStrategy) Name() string { return "exact-text" }

func (s *exactTextStrategy) Attempt(ctx context.Context, d schemas.Descriptor) ([]Candidate, error) {
	body := fmt.Sprintf(`
        const label = %s;
        const found = Array.from(document.querySelectorAll(%s))
            .filter(interactable)
            .filter(el => elText(el) === label);`,
		jsString(d.Label), jsString(roleSelector(s.cfg, d.Role)))
	return run(ctx, s.ev, body)
}

// -- contains text --

type containsTextStrategy struct {
	ev  Evaluator
	cfg config.LocatorConfig
}

func newContainsTextStrategy(ev Evaluator, cfg config.LocatorConfig) *containsTextStrategy {
	return &containsTextStrategy{ev: ev, cfg: cfg}
}

func (s *containsTextStrategy) Name() string { return "contains-text" }

func (s *containsTextStrategy) Attempt(ctx context.Context, d schemas.Descriptor) ([]Candidate, error) {
	body := fmt.Sprintf(`
        const label = %s.toLowerCase();
        const found = Array.from(document.querySelectorAll(%s))
            .filter(interactable)
            .filter(el => elText(el).toLowerCase().includes(label));`,
		jsString(d.Label), jsString(roleSelector(s.cfg, d.Role)))
	return run(ctx, s.ev, body)
}

// -- accessible name / label --

type accessibleNameStrategy struct {
	ev  Evaluator
	cfg config.LocatorConfig
}

func newAccessibleNameStrategy(ev Evaluator, cfg config.LocatorConfig) *accessibleNameStrategy {
	return &accessibleNameStrategy{ev: ev, cfg: cfg}
}

func (s *accessibleNameStrategy) Name() string { return "accessible-name" }

func (s *accessibleNameStrategy) Attempt(ctx context.Context, d schemas.Descriptor) ([]Candidate, error) {
	// aria-label, aria-labelledby, alt, title and bound <label> text, scoped
	// to interactive roles only.
	body := fmt.Sprintf(`
        const label = %s.toLowerCase();
        const accName = (el) => {
            if (el.getAttribute('aria-label')) return el.getAttribute('aria-label');
            const ref = el.getAttribute('aria-labelledby');
            if (ref) {
                const t = ref.split(/\s+/).map(id => {
                    const n = document.getElementById(id);
                    return n ? elText(n) : '';
                }).join(' ').trim();
                if (t) return t;
            }
            if (el.getAttribute('alt')) return el.getAttribute('alt');
            if (el.getAttribute('title')) return el.getAttribute('title');
            if (el.id) {
                const l = document.querySelector('label[for="' + CSS.escape(el.id) + '"]');
                if (l) return elText(l);
            }
            const wrap = el.closest('label');
            return wrap ? elText(wrap) : '';
        };
        const found = Array.from(document.querySelectorAll(%s))
            .filter(interactable)
            .filter(el => accName(el).trim().toLowerCase() === label);`,
		jsString(d.Label), jsString(roleSelector(s.cfg, d.Role)))
	return run(ctx, s.ev, body)
}

// -- component name convention --

type componentNameStrategy struct {
	ev  Evaluator
	cfg config.LocatorConfig
}

func newComponentNameStrategy(ev Evaluator, cfg config.LocatorConfig) *componentNameStrategy {
	return &componentNameStrategy{ev: ev, cfg: cfg}
}

func (s *componentNameStrategy) Name() string { return "component-name" }

func (s *componentNameStrategy) Attempt(ctx context.Context, d schemas.Descriptor) ([]Candidate, error) {
	attr := s.cfg.ComponentAttribute
	if attr == "" {
		attr = "data-component"
	}
	// Matches the configured naming-convention attribute, or a class token of
	// the same name, on the element or a wrapping component root.
	body := fmt.Sprintf(`
        const label = %s.toLowerCase();
        const attr = %s;
        const matches = (el) => {
            const v = el.getAttribute(attr);
            if (v && v.toLowerCase() === label) return true;
            return Array.from(el.classList).some(c => c.toLowerCase() === label);
        };
        const roots = Array.from(document.querySelectorAll('[' + attr + '], [class]')).filter(matches);
        const found = [];
        for (const root of roots) {
            if (interactable(root)) { found.push(root); continue; }
            const inner = Array.from(root.querySelectorAll(%s)).filter(interactable);
            if (inner.length === 1) found.push(inner[0]);
        }`,
		jsString(d.Label), jsString(attr), jsString(roleSelector(s.cfg, d.Role)))
	return run(ctx, s.ev, body)
}

// -- nearest interactable to a text anchor --

type proximityStrategy struct {
	ev  Evaluator
	cfg config.LocatorConfig
}

func newProximityStrategy(ev Evaluator, cfg config.LocatorConfig) *proximityStrategy {
	return &proximityStrategy{ev: ev, cfg: cfg}
}

func (s *proximityStrategy) Name() string { return "proximity" }

func (s *proximityStrategy) Attempt(ctx context.Context, d schemas.Descriptor) ([]Candidate, error) {
	radius := s.cfg.ProximityRadiusPx
	if radius <= 0 {
		radius = 300
	}
	// Find the text anchor anywhere on the page, then pick the single nearest
	// interactable element within the radius. Distance ties keep both
	// candidates so the chain refuses to guess.
	body := fmt.Sprintf(`
        const label = %s.toLowerCase();
        const radius = %d;
        const anchors = Array.from(document.querySelectorAll('body *'))
            .filter(visible)
            .filter(el => el.children.length === 0 && elText(el).toLowerCase().includes(label));
        let found = [];
        if (anchors.length > 0) {
            const a = anchors[0].getBoundingClientRect();
            const ax = a.left + a.width / 2, ay = a.top + a.height / 2;
            const dist = (el) => {
                const r = el.getBoundingClientRect();
                const dx = (r.left + r.width / 2) - ax, dy = (r.top + r.height / 2) - ay;
                return Math.hypot(dx, dy);
            };
            const nearby = Array.from(document.querySelectorAll(%s))
                .filter(interactable)
                .map(el => [dist(el), el])
                .filter(([dd]) => dd <= radius)
                .sort((p, q) => p[0] - q[0]);
            if (nearby.length === 1 || (nearby.length > 1 && nearby[1][0] - nearby[0][0] > 1)) {
                found = [nearby[0][1]];
            } else {
                found = nearby.map(([, el]) => el);
            }
        }`,
		jsString(d.Label), radius, jsString(roleSelector(s.cfg, d.Role)))
	return run(ctx, s.ev, body)
}
