package filler

import "github.com/contactpilot/contactpilot/internal/browser"

// obscuredScript hit-tests the center of the form's visible part.
var obscuredScript = browser.Script{
	Name: "filler.obscured",
	Source: `(sel) => {
  const form = document.querySelector(sel);
  if (!form) return { found: false, obscured: false };
  form.scrollIntoView({ block: 'center' });
  const r = form.getBoundingClientRect();
  const x = Math.min(Math.max(r.x + r.width / 2, 0), window.innerWidth - 1);
  const y = Math.min(Math.max(r.y + Math.min(r.height / 2, window.innerHeight / 2), 0), window.innerHeight - 1);
  const hit = document.elementFromPoint(x, y);
  return { found: true, obscured: !!hit && !form.contains(hit) && !hit.contains(form) };
}`,
}

// clearObstructionScript removes stacked, text-light elements that
// intersect the form's bounding box.
var clearObstructionScript = browser.Script{
	Name: "filler.clearObstruction",
	Source: `(sel) => {
  const form = document.querySelector(sel);
  if (!form) return 0;
  const fr = form.getBoundingClientRect();
  const intersects = (r) => r.x < fr.right && r.right > fr.x && r.y < fr.bottom && r.bottom > fr.y;
  let removed = 0;
  for (const el of Array.from(document.body.getElementsByTagName('*'))) {
    if (el === form || el.contains(form) || form.contains(el)) continue;
    const s = getComputedStyle(el);
    if (s.position !== 'fixed' && s.position !== 'absolute') continue;
    if ((parseInt(s.zIndex, 10) || 0) < 10) continue;
    if ((el.innerText || '').trim().length >= 100) continue;
    if (!intersects(el.getBoundingClientRect())) continue;
    el.remove();
    removed++;
  }
  return removed;
}`,
}
