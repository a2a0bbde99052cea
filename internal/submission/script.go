package submission

import "github.com/contactpilot/contactpilot/internal/browser"

// findSubmitScript tags the form's submit affordance. Lookup order: explicit
// submit controls, untyped buttons inside the form, then buttons or links
// whose text reads like send or submit.
var findSubmitScript = browser.Script{
	Name: "submission.findSubmit",
	Source: `(sel) => {
  const form = document.querySelector(sel);
  if (!form) return { selector: '', method: '' };
  const visible = (el) => {
    const s = getComputedStyle(el);
    const r = el.getBoundingClientRect();
    return s.display !== 'none' && s.visibility !== 'hidden' && r.width > 0 && r.height > 0;
  };
  const pick = (el, method) => {
    el.setAttribute('data-cp-submit', '1');
    return { selector: sel + ' [data-cp-submit="1"]', method };
  };
  form.querySelectorAll('[data-cp-submit]').forEach((el) => el.removeAttribute('data-cp-submit'));
  const typed = Array.from(form.querySelectorAll('button[type=submit], input[type=submit], input[type=image]')).find(visible);
  if (typed) return pick(typed, 'submit-control');
  const untyped = Array.from(form.querySelectorAll('button:not([type])')).find(visible);
  if (untyped) return pick(untyped, 'button');
  const words = /\b(send|submit|contact|get in touch|request|enquire|inquire)\b/i;
  const texty = Array.from(form.querySelectorAll('button, a, [role=button], input[type=button]'))
    .find((el) => visible(el) && words.test(el.innerText || el.value || el.getAttribute('aria-label') || ''));
  if (texty) return pick(texty, 'text-match');
  return { selector: '', method: '' };
}`,
}

// requestSubmitScript submits the form programmatically, running
// validation and submit handlers.
var requestSubmitScript = browser.Script{
	Name: "submission.requestSubmit",
	Source: `(sel) => {
  const form = document.querySelector(sel);
  if (!form) return false;
  if (typeof form.requestSubmit === 'function') form.requestSubmit(); else if (typeof form.submit === 'function') form.submit();
  return true;
}`,
}

// htmlScript returns the scope's markup.
var htmlScript = browser.Script{
	Name:   "submission.html",
	Source: `() => document.documentElement ? document.documentElement.outerHTML : ''`,
}
