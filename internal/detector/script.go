package detector

import "github.com/contactpilot/contactpilot/internal/browser"

// scanFormsScript tags every top-level form-like container and its fields
// with data-cp-* attributes and returns one snapshot per container. Tagging
// is deterministic so repeated scans of an unchanged document agree.
var scanFormsScript = browser.Script{
	Name: "detector.scanForms",
	Source: `() => {
  const FORM = 'data-cp-form', FIELD = 'data-cp-field';
  const clean = (s, n) => (s || '').replace(/\s+/g, ' ').trim().slice(0, n || 500);
  const visible = (el) => {
    if (!el || !el.isConnected) return false;
    const s = window.getComputedStyle(el);
    if (s.display === 'none' || s.visibility === 'hidden' || parseFloat(s.opacity) === 0) return false;
    const r = el.getBoundingClientRect();
    return r.width > 0 && r.height > 0;
  };
  const labelOf = (el) => {
    if (el.id) {
      const l = document.querySelector('label[for="' + CSS.escape(el.id) + '"]');
      if (l) return clean(l.innerText || l.textContent, 200);
    }
    const wrap = el.closest('label');
    if (wrap) return clean(wrap.innerText || wrap.textContent, 200);
    const aria = el.getAttribute('aria-label');
    if (aria) return clean(aria, 200);
    const by = el.getAttribute('aria-labelledby');
    if (by) { const n = document.getElementById(by); if (n) return clean(n.textContent, 200); }
    const prev = el.previousElementSibling;
    if (prev && /^(LABEL|SPAN|P|DIV|STRONG|B)$/.test(prev.tagName)) return clean(prev.innerText || prev.textContent, 200);
    return '';
  };
  const choiceVisible = (el) => {
    if (visible(el)) return true;
    const wrap = el.closest('label');
    if (wrap && visible(wrap)) return true;
    if (el.id) {
      const l = document.querySelector('label[for="' + CSS.escape(el.id) + '"]');
      if (l && visible(l)) return true;
    }
    return false;
  };

  const containers = [];
  document.querySelectorAll('form, [role="form"]').forEach((f) => {
    if (!f.parentElement || !f.parentElement.closest('form, [role="form"]')) containers.push(f);
  });
  document.querySelectorAll('textarea').forEach((ta) => {
    if (ta.closest('form, [role="form"]')) return;
    let node = ta.parentElement;
    for (let depth = 0; node && depth < 6; depth++, node = node.parentElement) {
      const inputs = node.querySelectorAll('input:not([type="hidden"]), textarea, select').length;
      if (inputs >= 2 && node.querySelector('button, input[type="submit"], [role="button"]')) {
        if (!containers.some((c) => c === node || c.contains(node) || node.contains(c))) containers.push(node);
        break;
      }
    }
  });

  return containers.map((f, i) => {
    f.setAttribute(FORM, String(i));
    const fields = [];
    const radios = {};
    let n = 0;
    f.querySelectorAll('input, textarea, select, button').forEach((el) => {
      const tag = el.tagName.toLowerCase();
      const type = (el.getAttribute('type') || (tag === 'button' ? 'submit' : (tag === 'input' ? 'text' : ''))).toLowerCase();
      const id = i + '-' + (n++);
      el.setAttribute(FIELD, id);
      const field = {
        selector: '[' + FIELD + '="' + id + '"]',
        tag: tag,
        type: type,
        name: el.getAttribute('name') || '',
        id: el.id || '',
        placeholder: el.getAttribute('placeholder') || '',
        label: labelOf(el),
        required: !!el.required || el.getAttribute('aria-required') === 'true',
        visible: (type === 'radio' || type === 'checkbox') ? choiceVisible(el) : visible(el),
        disabled: !!el.disabled,
        value: '',
        checked: false,
      };
      if (tag === 'button') {
        field.label = field.label || clean(el.innerText || el.textContent, 100);
      } else if (tag === 'select') {
        field.options = Array.from(el.options).map((o) => ({ value: o.value, text: clean(o.text, 120) }));
        field.value = el.value;
      } else if (type === 'radio') {
        const key = field.name || field.selector;
        const opt = { value: el.value, text: labelOf(el), selector: field.selector, checked: el.checked };
        const group = radios[key];
        if (group) {
          group.options.push(opt);
          group.visible = group.visible || field.visible;
          group.required = group.required || field.required;
          return;
        }
        const fs = el.closest('fieldset');
        const legend = fs ? fs.querySelector('legend') : null;
        field.label = legend ? clean(legend.textContent, 200) : '';
        field.options = [opt];
        radios[key] = field;
      } else if (type === 'checkbox') {
        field.checked = el.checked;
        field.value = el.value || 'on';
      } else {
        field.value = el.value || '';
      }
      fields.push(field);
    });

    const context = [];
    let prev = f.previousElementSibling;
    for (let k = 0; prev && k < 3; k++, prev = prev.previousElementSibling) {
      context.push(clean(prev.innerText || prev.textContent, 300));
    }
    if (f.parentElement) {
      const heading = f.parentElement.querySelector('h1, h2, h3, h4, legend');
      if (heading && !f.contains(heading)) context.push(clean(heading.textContent, 200));
      const uncle = f.parentElement.previousElementSibling;
      if (uncle) context.push(clean(uncle.innerText || uncle.textContent, 300));
    }
    context.push(clean(document.title, 200));

    return {
      index: i,
      selector: '[' + FORM + '="' + i + '"]',
      visible: visible(f),
      id: f.id || '',
      class: typeof f.className === 'string' ? f.className : '',
      action: f.getAttribute('action') || '',
      method: (f.getAttribute('method') || '').toLowerCase(),
      text: clean(f.innerText || f.textContent, 2000),
      context: clean(context.join(' '), 1500),
      fields: fields,
    };
  });
}`,
}
