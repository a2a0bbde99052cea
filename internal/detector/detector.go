// Package detector finds and ranks contact forms on a page and in each of its
// embedded frames.
package detector

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/contactpilot/contactpilot/internal/browser"
	"github.com/contactpilot/contactpilot/internal/form"
)

// Snapshot is the raw extraction of one form-like container.
type Snapshot struct {
	Index    int                    `json:"index"`
	Selector string                 `json:"selector"`
	Visible  bool                   `json:"visible"`
	ID       string                 `json:"id"`
	Class    string                 `json:"class"`
	Action   string                 `json:"action"`
	Method   string                 `json:"method"`
	Text     string                 `json:"text"`
	Context  string                 `json:"context"`
	Fields   []form.FieldDescriptor `json:"fields"`
}

// Scored is the outcome of scoring one snapshot.
type Scored struct {
	Score       int
	FieldCounts map[form.FieldClass]int
	RoleCounts  map[form.Role]int
	Metadata    form.Metadata
}

// Detector scans scopes for contact forms.
type Detector struct {
	logger *zap.Logger
}

// New creates a detector
func New(logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{logger: logger}
}

// Detect scans the main document and every embedded frame independently and
// returns all visible candidates ranked by score. Frame scan failures are
// logged and skipped; a main document failure is returned.
func (d *Detector) Detect(ctx context.Context, page browser.Page) ([]form.Analysis, error) {
	results, err := d.DetectScope(ctx, page)
	if err != nil {
		return nil, err
	}

	for _, frame := range page.Frames() {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		frameResults, err := d.DetectScope(ctx, frame)
		if err != nil {
			d.logger.Debug("frame scan failed",
				zap.String("frame_url", frame.URL()),
				zap.Error(err),
			)
			continue
		}
		results = append(results, frameResults...)
	}

	Rank(results)
	return results, nil
}

// DetectScope scans a single document or frame.
func (d *Detector) DetectScope(ctx context.Context, scope browser.Scope) ([]form.Analysis, error) {
	var snapshots []Snapshot
	if err := browser.EvaluateInto(ctx, scope, scanFormsScript, nil, &snapshots); err != nil {
		return nil, fmt.Errorf("scanning forms: %w", err)
	}

	results := make([]form.Analysis, 0, len(snapshots))
	for _, snap := range snapshots {
		if !snap.Visible {
			continue
		}
		scored := Score(snap)
		results = append(results, form.Analysis{
			Scope:        scope,
			Selector:     snap.Selector,
			Index:        snap.Index,
			Score:        scored.Score,
			FieldCounts:  scored.FieldCounts,
			RoleCounts:   scored.RoleCounts,
			Metadata:     scored.Metadata,
			FrameContext: scope.FrameContext(),
			Fields:       snap.Fields,
		})
		d.logger.Debug("form scored",
			zap.String("frame", string(scope.FrameContext())),
			zap.String("selector", snap.Selector),
			zap.Int("score", scored.Score),
			zap.Strings("positive", scored.Metadata.PositiveKeywords),
			zap.Strings("negative", scored.Metadata.NegativeKeywords),
		)
	}
	return results, nil
}

// Rank orders analyses by descending score. Main-document forms win ties.
func Rank(results []form.Analysis) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].FrameContext == browser.FrameMain && results[j].FrameContext != browser.FrameMain
	})
}

// Score rates how likely a snapshot is a contact form. It is a pure function
// of the snapshot.
func Score(s Snapshot) Scored {
	counts := make(map[form.FieldClass]int)
	roles := make(map[form.Role]int)
	for _, f := range s.Fields {
		counts[f.Class()]++
		for _, r := range form.MatchRoles(f) {
			roles[r]++
		}
	}

	score := 0
	for role, weight := range roleWeights {
		if roles[role] > 0 {
			score += weight
		}
	}
	if counts[form.ClassSubmit] > 0 {
		score += weightSubmit
	}

	haystack := strings.ToLower(strings.Join([]string{s.Text, s.Context, s.ID, s.Class, s.Action, s.Method}, " "))
	positive, posHits := form.SumWeights(haystack, positiveKeywords)
	score += min(positive, maxPositive)

	penalty, negHits := form.SumWeights(haystack, negativeKeywords)
	score -= min(penalty, maxPenalty)

	contactAction := isContactAction(s)
	if contactAction {
		score += weightAction
	}

	total := inputCount(counts)
	if total < minFields {
		score = 0
	}
	if total > maxFields {
		score -= crowdedFields
	}
	// Email plus name next to subscribe wording is a signup form.
	if len(negHits) > 0 && roles[form.RoleMessage] == 0 {
		score = 0
	}
	score = max(score, 0)

	return Scored{
		Score:       score,
		FieldCounts: counts,
		RoleCounts:  roles,
		Metadata: form.Metadata{
			ID:               s.ID,
			Class:            s.Class,
			Action:           s.Action,
			Method:           s.Method,
			PositiveKeywords: posHits,
			NegativeKeywords: negHits,
			ContactAction:    contactAction,
		},
	}
}

func isContactAction(s Snapshot) bool {
	action := strings.ToLower(s.Action)
	if action != "" && len(form.MatchKeywords(action, contactActions)) > 0 {
		return true
	}
	attrs := strings.ToLower(s.ID + " " + s.Class)
	return len(form.MatchKeywords(attrs, contactBuilders)) > 0
}

// inputCount is the number of user-facing fields, excluding hidden inputs,
// buttons and unsupported controls.
func inputCount(counts map[form.FieldClass]int) int {
	total := 0
	for class, n := range counts {
		switch class {
		case form.ClassHidden, form.ClassSubmit, form.ClassOther:
			continue
		}
		total += n
	}
	return total
}
