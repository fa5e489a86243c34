package bridge

// In-page scripts. Everything lives under window.__voxtab and the single
// overlay container node so a disable/teardown leaves no trace in the page.

// observerScript installs mutation/resize/scroll observers that report
// through the __voxtabNotify binding. Mutations are debounced ~300ms and
// scrolls ~100ms on the page side so a storm of changes costs one message.
const observerScript = `(() => {
	if (window.__voxtabObserved) return;
	window.__voxtabObserved = true;
	const notify = (kind) => {
		if (typeof window.__voxtabNotify === 'function') window.__voxtabNotify(kind);
	};
	let mutTimer = null;
	const mo = new MutationObserver(() => {
		if (mutTimer) clearTimeout(mutTimer);
		mutTimer = setTimeout(() => { mutTimer = null; notify('mutation'); }, 300);
	});
	const start = () => mo.observe(document.body, { childList: true, subtree: true, attributes: true });
	if (document.body) start();
	else document.addEventListener('DOMContentLoaded', start, { once: true });
	new ResizeObserver(() => notify('resize')).observe(document.documentElement);
	let scrollTimer = null;
	window.addEventListener('scroll', () => {
		if (scrollTimer) clearTimeout(scrollTimer);
		scrollTimer = setTimeout(() => { scrollTimer = null; notify('scroll'); }, 100);
	}, { passive: true });
})()`

// scanScript enumerates visible interactable elements in DOM order. The
// live element handles are parked on window.__voxtab.els so later commands
// can address them by index; the generation stamp guards against stale use.
// The %d verb receives the scan generation.
const scanScript = `(() => {
	const selector = 'a[href], button, input, select, textarea, summary, ' +
		'[role="button"], [role="link"], [role="checkbox"], [role="radio"], ' +
		'[role="menuitem"], [role="tab"], [role="combobox"], [role="switch"], ' +
		'[onclick], [tabindex]:not([tabindex="-1"])';
	const keep = ['id', 'name', 'type', 'href', 'placeholder', 'aria-label', 'role', 'value', 'autocomplete'];
	const out = [];
	const els = [];
	const seen = new Set();
	for (const el of document.querySelectorAll(selector)) {
		if (seen.has(el)) continue;
		seen.add(el);
		const r = el.getBoundingClientRect();
		if (r.width < 2 || r.height < 2) continue;
		const cs = getComputedStyle(el);
		if (cs.display === 'none' || cs.visibility === 'hidden' || cs.opacity === '0') continue;
		const attrs = {};
		for (const a of el.attributes) {
			if (keep.includes(a.name)) attrs[a.name] = a.value.slice(0, 200);
		}
		const text = (el.innerText || el.value || el.getAttribute('aria-label') || el.getAttribute('placeholder') || '')
			.trim().slice(0, 120);
		els.push(el);
		out.push({ tag: el.tagName, rect: { x: r.x, y: r.y, w: r.width, h: r.height }, text: text, attributes: attrs });
	}
	window.__voxtab = window.__voxtab || {};
	window.__voxtab.els = els;
	window.__voxtab.gen = %d;
	return out;
})()`

// clickScript clicks a resolved element with scroll-into-view, focus and a
// transient outline highlight. The %s verb receives a resolution snippet.
const clickScript = `(() => {
	const el = %s;
	if (!el || !el.isConnected) return { found: false };
	el.scrollIntoView({ block: 'center', behavior: 'instant' });
	if (el.focus) el.focus();
	const prev = el.style.outline;
	el.style.outline = '2px solid #4da3ff';
	setTimeout(() => { el.style.outline = prev; }, 500);
	el.click();
	return { found: true };
})()`

// typeScript simulates per-character input so frameworks listening at
// keystroke granularity see every character, then fires one change event.
// Verbs: resolution snippet, clear flag, text, per-char delay ms,
// submit mode ("", "form", "enter").
const typeScript = `(async () => {
	const el = %s;
	if (!el || !el.isConnected) return { found: false };
	el.scrollIntoView({ block: 'center', behavior: 'instant' });
	if (el.focus) el.focus();
	const clear = %t;
	if (clear) {
		el.value = '';
		el.dispatchEvent(new Event('input', { bubbles: true }));
	}
	const text = %s;
	const delay = %d;
	for (const ch of text) {
		el.value = el.value + ch;
		el.dispatchEvent(new Event('input', { bubbles: true }));
		if (delay > 0) await new Promise(r => setTimeout(r, delay));
	}
	el.dispatchEvent(new Event('change', { bubbles: true }));
	const submit = %s;
	if (submit === 'form' && el.form) {
		if (el.form.requestSubmit) el.form.requestSubmit(); else el.form.submit();
	} else if (submit === 'enter') {
		for (const type of ['keydown', 'keypress', 'keyup']) {
			el.dispatchEvent(new KeyboardEvent(type, { key: 'Enter', code: 'Enter', keyCode: 13, bubbles: true }));
		}
	}
	return { found: true, value: el.value };
})()`

// scrollScript scrolls the window or a resolved element target. The
// "page" and "half" presets resolve against the live viewport in-page.
// Verbs: target snippet ("window" or element resolution), absolute mode
// ("", "top", "bottom"), direction ("up"/"down"/"left"/"right"), amount
// (preset name or pixel count as a string).
const scrollScript = `(() => {
	const target = %s;
	const abs = %s, dir = %s, amount = %s;
	if (!target) return { found: false };
	const isWin = target === window;
	if (abs === 'top') {
		isWin ? window.scrollTo(0, 0) : target.scrollTo(0, 0);
	} else if (abs === 'bottom') {
		isWin ? window.scrollTo(0, document.body.scrollHeight) : target.scrollTo(0, target.scrollHeight);
	} else {
		const vertical = dir === 'up' || dir === 'down';
		const span = vertical ? window.innerHeight : window.innerWidth;
		let px;
		if (amount === 'page') px = Math.round(span * 0.8);
		else if (amount === 'half') px = Math.round(span * 0.5);
		else { px = Number(amount); if (!isFinite(px) || px <= 0) px = Math.round(span * 0.8); }
		const sign = (dir === 'up' || dir === 'left') ? -1 : 1;
		const dx = vertical ? 0 : sign * px;
		const dy = vertical ? sign * px : 0;
		isWin ? window.scrollBy(dx, dy) : target.scrollBy(dx, dy);
	}
	const x = isWin ? window.scrollX : target.scrollLeft;
	const y = isWin ? window.scrollY : target.scrollTop;
	return { found: true, scrolled: { x: x, y: y } };
})()`

// detectFormsScript enumerates form groupings with enough raw signal for
// Go-side classification. Selectors favor stable ids/names and fall back
// to structural paths; the page itself is never marked up.
const detectFormsScript = `(() => {
	const cssPath = (el) => {
		if (el.id) return '#' + CSS.escape(el.id);
		const parts = [];
		let cur = el;
		while (cur && cur.nodeType === 1 && parts.length < 5) {
			let part = cur.tagName.toLowerCase();
			if (cur.id) { parts.unshift('#' + CSS.escape(cur.id)); break; }
			const name = cur.getAttribute('name');
			if (name) part += '[name="' + CSS.escape(name) + '"]';
			else {
				const siblings = cur.parentElement ? Array.from(cur.parentElement.children).filter(c => c.tagName === cur.tagName) : [];
				if (siblings.length > 1) part += ':nth-of-type(' + (siblings.indexOf(cur) + 1) + ')';
			}
			parts.unshift(part);
			cur = cur.parentElement;
		}
		return parts.join(' > ');
	};
	const labelFor = (input) => {
		if (input.labels && input.labels.length) return input.labels[0].innerText.trim();
		const al = input.getAttribute('aria-label');
		return al ? al.trim() : '';
	};
	const describe = (root) => {
		const fields = [];
		for (const f of root.querySelectorAll('input, select, textarea')) {
			const type = (f.getAttribute('type') || 'text').toLowerCase();
			if (['hidden', 'submit', 'button', 'image', 'reset'].includes(type)) continue;
			fields.push({
				name: f.getAttribute('name') || '',
				id: f.id || '',
				type: type,
				placeholder: f.getAttribute('placeholder') || '',
				autocomplete: f.getAttribute('autocomplete') || '',
				label: labelFor(f),
				selector: cssPath(f)
			});
		}
		const buttons = [];
		for (const b of root.querySelectorAll('button, input[type="submit"], [role="button"]')) {
			buttons.push({
				selector: cssPath(b),
				type: (b.getAttribute('type') || '').toLowerCase(),
				text: (b.innerText || b.value || '').trim().slice(0, 80)
			});
		}
		return { selector: cssPath(root), fields: fields, buttons: buttons };
	};
	const out = [];
	for (const form of document.querySelectorAll('form')) {
		const d = describe(form);
		if (d.fields.length) out.push(d);
	}
	if (!out.length) {
		// Formless pages: treat the body as one implicit grouping.
		const d = describe(document.body);
		d.selector = 'body';
		if (d.fields.length) out.push(d);
	}
	return out;
})()`

// submitFormScript triggers a form's native submission path.
// The %s verb receives the quoted form selector.
const submitFormScript = `(() => {
	const form = document.querySelector(%s);
	if (!form) return { found: false };
	if (form.requestSubmit) form.requestSubmit(); else form.submit();
	return { found: true };
})()`

// overlayShowScript renders one absolutely-positioned index label per
// element from the last scan whose bounds intersect the viewport. The
// single container id makes teardown a one-node removal.
const overlayShowScript = `(() => {
	const reg = window.__voxtab;
	if (!reg || !reg.els) return { shown: false, reason: 'no scan' };
	let root = document.getElementById('__voxtab_overlay');
	if (root) root.remove();
	root = document.createElement('div');
	root.id = '__voxtab_overlay';
	root.style.cssText = 'position:fixed;inset:0;pointer-events:none;z-index:2147483647;';
	const vw = window.innerWidth, vh = window.innerHeight;
	let count = 0;
	reg.els.forEach((el, i) => {
		if (!el.isConnected) return;
		const r = el.getBoundingClientRect();
		if (r.bottom < 0 || r.top > vh || r.right < 0 || r.left > vw) return;
		const label = document.createElement('div');
		label.textContent = String(i);
		label.style.cssText = 'position:absolute;left:' + Math.max(0, r.left) + 'px;top:' + Math.max(0, r.top) + 'px;' +
			'background:#1a73e8;color:#fff;font:bold 11px monospace;padding:1px 4px;border-radius:3px;' +
			'box-shadow:0 1px 3px rgba(0,0,0,.4);';
		root.appendChild(label);
		count++;
	});
	document.body.appendChild(root);
	return { shown: true, labels: count };
})()`

// overlayHideScript removes the overlay container entirely. No residual
// nodes survive a hide.
const overlayHideScript = `(() => {
	const root = document.getElementById('__voxtab_overlay');
	if (root) root.remove();
	return { shown: false };
})()`

const overlayVisibleScript = `!!document.getElementById('__voxtab_overlay')`
