package popup

import "github.com/contactpilot/contactpilot/internal/browser"

// scanScript reports visible overlay candidates: elements matching the given
// selectors plus positioned elements stacked above normal content. Each
// candidate and its clickable controls are tagged so the Go side can act on
// them later in the same document. Candidates nested inside another
// candidate are dropped.
var scanScript = browser.Script{
	Name: "popup.scan",
	Source: `(arg) => {
  const POP = 'data-cp-popup', CTL = 'data-cp-ctl';
  const seq = (k) => (window[k] = (window[k] || 0) + 1);
  const clean = (s, n) => (s || '').replace(/\s+/g, ' ').trim().slice(0, n);
  const visible = (el) => {
    const s = getComputedStyle(el);
    if (s.display === 'none' || s.visibility === 'hidden' || parseFloat(s.opacity) === 0) return false;
    const r = el.getBoundingClientRect();
    return r.width > 0 && r.height > 0;
  };
  const tag = (el, attr, key) => {
    if (!el.hasAttribute(attr)) el.setAttribute(attr, String(seq(key)));
    return '[' + attr + '="' + el.getAttribute(attr) + '"]';
  };
  const found = new Set();
  for (const sel of (arg && arg.selectors) || []) {
    try { document.querySelectorAll(sel).forEach((el) => found.add(el)); } catch (e) {}
  }
  const all = document.body ? document.body.getElementsByTagName('*') : [];
  for (let i = 0; i < all.length && i < 5000; i++) {
    const el = all[i];
    const s = getComputedStyle(el);
    if ((s.position === 'fixed' || s.position === 'absolute' || s.position === 'sticky') && (parseInt(s.zIndex, 10) || 0) >= 100) found.add(el);
  }
  const list = Array.from(found).filter((el) => el !== document.body && el !== document.documentElement && visible(el));
  const top = list.filter((el) => !list.some((o) => o !== el && o.contains(el)));
  return top.slice(0, 40).map((el) => {
    const s = getComputedStyle(el);
    const r = el.getBoundingClientRect();
    const text = clean(el.innerText || el.textContent, 100000);
    const controls = [];
    el.querySelectorAll('button, a, [role=button], input[type=button], input[type=submit], [aria-label], [class*=close i], [class*=dismiss i]').forEach((c) => {
      if (controls.length >= 12 || !visible(c)) return;
      controls.push({
        selector: tag(c, CTL, '__cpCtlSeq'),
        text: clean(c.innerText || c.value || c.textContent, 80),
        label: clean(c.getAttribute('aria-label') || c.getAttribute('title') || '', 80),
      });
    });
    const cls = typeof el.className === 'string' ? el.className : (el.getAttribute('class') || '');
    return {
      selector: tag(el, POP, '__cpPopupSeq'),
      tag: el.tagName.toLowerCase(),
      id: el.id || '',
      class: clean(cls, 200),
      role: el.getAttribute('role') || '',
      modal: el.getAttribute('aria-modal') === 'true' || /dialog/.test(el.getAttribute('role') || '') || /modal|popup|lightbox/i.test(cls),
      contactForm: !!el.querySelector('form textarea, textarea'),
      formFields: el.querySelectorAll('textarea, select, input:not([type]), input[type=text], input[type=email], input[type=tel], input[type=url], input[type=number], input[type=search]').length,
      text: text.slice(0, 300),
      textLength: text.length,
      parentTag: el.parentElement ? el.parentElement.tagName.toLowerCase() : '',
      position: s.position,
      zIndex: parseInt(s.zIndex, 10) || 0,
      box: { x: r.x, y: r.y, width: r.width, height: r.height },
      viewport: { width: window.innerWidth, height: window.innerHeight },
      controls,
    };
  });
}`,
}

// hideScript hides an element in place, leaving page scripts intact.
var hideScript = browser.Script{
	Name: "popup.hide",
	Source: `(sel) => {
  const el = document.querySelector(sel);
  if (!el) return false;
  el.style.setProperty('display', 'none', 'important');
  el.style.setProperty('visibility', 'hidden', 'important');
  el.setAttribute('aria-hidden', 'true');
  return true;
}`,
}

// removeScript detaches elements and releases any scroll lock they left on
// the document.
var removeScript = browser.Script{
	Name: "popup.remove",
	Source: `(sels) => {
  let n = 0;
  for (const sel of sels || []) {
    const el = document.querySelector(sel);
    if (el) { el.remove(); n++; }
  }
  for (const el of [document.documentElement, document.body]) {
    if (!el) continue;
    if (getComputedStyle(el).overflow === 'hidden') el.style.setProperty('overflow', 'auto', 'important');
    el.classList.remove('modal-open', 'no-scroll', 'noscroll', 'overflow-hidden');
  }
  return n;
}`,
}

// interactableScript reports whether a modal is still open, how many
// ordinary controls receive a hit test at their center, and whether a
// populated form is visible.
var interactableScript = browser.Script{
	Name: "popup.interactable",
	Source: `() => {
  const visible = (el) => {
    const s = getComputedStyle(el);
    if (s.display === 'none' || s.visibility === 'hidden' || parseFloat(s.opacity) === 0) return false;
    const r = el.getBoundingClientRect();
    return r.width > 0 && r.height > 0;
  };
  const modalOpen = Array.from(document.querySelectorAll('[role=dialog], [role=alertdialog], [aria-modal=true], [class*=modal i], [class*=popup i]'))
    .some((el) => visible(el) && !el.querySelector('form textarea') && getComputedStyle(el).position === 'fixed');
  let hitTestable = 0;
  const controls = document.querySelectorAll('input:not([type=hidden]), textarea, button, a[href], select');
  for (let i = 0; i < controls.length && i < 200 && hitTestable < 10; i++) {
    const el = controls[i];
    if (!visible(el)) continue;
    const r = el.getBoundingClientRect();
    const x = r.x + r.width / 2, y = r.y + r.height / 2;
    if (x < 0 || y < 0 || x > window.innerWidth || y > window.innerHeight) continue;
    const hit = document.elementFromPoint(x, y);
    if (hit && (hit === el || el.contains(hit) || hit.contains(el))) hitTestable++;
  }
  const populatedForm = Array.from(document.querySelectorAll('form'))
    .some((f) => visible(f) && f.querySelectorAll('input:not([type=hidden]), textarea, select').length > 0);
  return { modalOpen, hitTestable, populatedForm };
}`,
}
