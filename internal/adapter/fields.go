package adapter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/maruel/annodb/internal/models"
)

// na is shown for read-only fields that are absent.
const na = "N/A"

// Field labels shown by the UI.
const (
	labelQuestion      = "问题 (Prompt)"
	labelCorrectAnswer = "正确答案 (Correct Answer Text)"
	labelOptimalPath   = "理解路径 (Optimal Path)"
	labelJustification = "路径解释 (Justification)"
	labelExplanation   = "图像解释 (Explanation)"
	labelMetaphor      = "核心隐喻 (Metaphorical Meaning)"
	labelClaim         = "相关批语 (Claim)"
	labelQuestionRO    = "问题 (Question)"
	labelOptions       = "选项 (Options)"
	labelAnswerRO      = "正确答案 (Correct Answer)"
	labelMeaning       = "隐喻含义 (Metaphorical Meaning)"
)

const (
	keyImage       = "image"
	keyPath        = "path"
	keyPrompt      = "prompt"
	keyContent     = "content"
	keyExtraInfo   = "extra_info"
	keyRewardModel = "reward_model"
	keyGroundTruth = "ground_truth"
	keyAnswer      = "answer"
)

// optionSlots are the answer slots, in letter order.
var optionSlots = [...]string{"option1", "option2", "option3", "option4"}

// contextField is a read-only extra_info entry shown as a display field.
type contextField struct {
	label string
	key   string
}

// text converts a scalar JSON value to its display string.
func text(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return fmt.Sprint(t), true
	default:
		return "", false
	}
}

func orDefault(v any, def string) string {
	if s, ok := text(v); ok {
		return s
	}
	return def
}

// imagePath roots image.path under dir; it is empty when the record has no
// image.
func imagePath(dir string, rec models.Record) string {
	p, _ := rec.Nested(keyImage, keyPath)
	if p == "" {
		return ""
	}
	return dir + "/" + p
}

// promptMessage returns the first prompt message, if any.
func promptMessage(rec models.Record) (map[string]any, bool) {
	prompt, ok := rec[keyPrompt].([]any)
	if !ok || len(prompt) == 0 {
		return nil, false
	}
	m, ok := prompt[0].(map[string]any)
	return m, ok
}

func promptContent(rec models.Record, def string) string {
	m, ok := promptMessage(rec)
	if !ok {
		return def
	}
	return orDefault(m[keyContent], def)
}

func extraInfo(rec models.Record, key, def string) string {
	m, ok := rec.Object(keyExtraInfo)
	if !ok {
		return def
	}
	return orDefault(m[key], def)
}

func contextFields(rec models.Record, fields []contextField) []models.DisplayField {
	out := make([]models.DisplayField, 0, len(fields))
	for _, f := range fields {
		out = append(out, models.DisplayField{Label: f.label, Value: extraInfo(rec, f.key, na)})
	}
	return out
}

// optionLines renders the non-empty option slots as "A. text" lines.
func optionLines(rec models.Record) string {
	var lines []string
	for i, slot := range optionSlots {
		if v, ok := text(rec[slot]); ok && v != "" {
			lines = append(lines, fmt.Sprintf("%c. %s", 'A'+i, v))
		}
	}
	return strings.Join(lines, "\n")
}

func optimalPathField(rec models.Record) models.AnnotationField {
	return models.AnnotationField{
		Name:    FormOptimalPath,
		Label:   labelOptimalPath,
		Type:    models.FieldSelect,
		Value:   extraInfo(rec, FormOptimalPath, ""),
		Options: append([]string(nil), OptimalPaths...),
	}
}

func justificationField(rec models.Record) models.AnnotationField {
	return models.AnnotationField{
		Name:  FormJustification,
		Label: labelJustification,
		Type:  models.FieldTextarea,
		Value: extraInfo(rec, FormJustification, ""),
	}
}

// setPathAndJustification is shared by every variant.
func setPathAndJustification(rec models.Record, form Form) {
	info := rec.EnsureObject(keyExtraInfo, nil)
	info[FormOptimalPath] = form.Get(FormOptimalPath)
	info[FormJustification] = form.Get(FormJustification)
}
