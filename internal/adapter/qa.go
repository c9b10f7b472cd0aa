package adapter

import (
	"github.com/maruel/annodb/internal/models"
)

// questionAnswer is the editable question/answer schema shared by the default,
// hummus and V-FLUTE variants. They only differ by image folder and by the
// read-only context shown.
type questionAnswer struct {
	variant  Variant
	imageDir string
	context  []contextField
	pick     Picker
}

func newMutimm(pick Picker) *questionAnswer {
	return &questionAnswer{variant: VariantDefault, imageDir: "mutimm_images", pick: pick}
}

func newHummus(pick Picker) *questionAnswer {
	return &questionAnswer{
		variant:  VariantHummus,
		imageDir: "hummus_images",
		context: []contextField{
			{label: labelExplanation, key: "explanation"},
			{label: labelMetaphor, key: "metaphorical_meaning"},
		},
		pick: pick,
	}
}

func newVFlute(pick Picker) *questionAnswer {
	return &questionAnswer{
		variant:  VariantVFlute,
		imageDir: "vflute_images",
		context: []contextField{
			{label: labelExplanation, key: "explanation"},
			{label: labelClaim, key: "claim"},
		},
		pick: pick,
	}
}

func (a *questionAnswer) Variant() Variant {
	return a.variant
}

func (a *questionAnswer) Display(row models.Row) models.DisplayPayload {
	rec := row.Record
	groundTruth := ""
	if m, ok := rec.Object(keyRewardModel); ok {
		groundTruth = orDefault(m[keyGroundTruth], "")
	}
	return models.DisplayPayload{
		ID:            row.ID,
		ImagePath:     imagePath(a.imageDir, rec),
		DisplayFields: contextFields(rec, a.context),
		AnnotationFields: []models.AnnotationField{
			{
				Name:  FormQuestion,
				Label: labelQuestion,
				Type:  models.FieldTextarea,
				Value: promptContent(rec, ""),
			},
			{
				Name:  FormCorrectAnswer,
				Label: labelCorrectAnswer,
				Type:  models.FieldTextarea,
				Value: groundTruth,
			},
			optimalPathField(rec),
			justificationField(rec),
		},
	}
}

func (a *questionAnswer) Update(rec models.Record, form Form) {
	setPrompt(rec, form.Get(FormQuestion))
	setPathAndJustification(rec, form)

	answer := form.Get(FormCorrectAnswer)
	rm := rec.EnsureObject(keyRewardModel, map[string]any{keyGroundTruth: "", "style": "rule"})
	rm[keyGroundTruth] = answer
	placeAnswer(rec, answer, a.pick)
}

// setPrompt stores q as the content of the first prompt message.
func setPrompt(rec models.Record, q string) {
	prompt, ok := rec[keyPrompt].([]any)
	if !ok || len(prompt) == 0 {
		prompt = []any{nil}
	}
	m, ok := prompt[0].(map[string]any)
	if !ok {
		m = map[string]any{keyContent: "", "role": "user"}
		prompt[0] = m
	}
	m[keyContent] = q
	rec[keyPrompt] = prompt
}

// placeAnswer clears every option slot, writes answer into one slot chosen
// uniformly at random and records its letter.
//
// The slot is drawn again on every save so the stored answer key carries no
// positional bias.
func placeAnswer(rec models.Record, answer string, pick Picker) {
	i := pick.IntN(len(optionSlots))
	for _, slot := range optionSlots {
		rec[slot] = ""
	}
	rec[optionSlots[i]] = answer
	rec[keyAnswer] = string(rune('A' + i))
}
