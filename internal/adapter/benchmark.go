package adapter

import (
	"github.com/maruel/annodb/internal/models"
)

// benchmark is the YesBut schema. Question, options and answer key are set
// upstream and are read-only here.
type benchmark struct{}

func (*benchmark) Variant() Variant {
	return VariantYesBut
}

func (*benchmark) Display(row models.Row) models.DisplayPayload {
	rec := row.Record
	return models.DisplayPayload{
		ID:        row.ID,
		ImagePath: imagePath("yesbut_images", rec),
		DisplayFields: []models.DisplayField{
			{Label: labelQuestionRO, Value: promptContent(rec, na)},
			{Label: labelOptions, Value: optionLines(rec)},
			{Label: labelAnswerRO, Value: orDefault(rec[keyAnswer], na)},
			{Label: labelExplanation, Value: extraInfo(rec, "explanation", na)},
			{Label: labelMeaning, Value: extraInfo(rec, "metaphorical_meaning", na)},
		},
		AnnotationFields: []models.AnnotationField{
			optimalPathField(rec),
			justificationField(rec),
		},
	}
}

func (*benchmark) Update(rec models.Record, form Form) {
	setPathAndJustification(rec, form)
}
