package cds

// OtherCategory holds alerts whose type has no label yet.
const OtherCategory = "Other"

var categoryLabels = map[AlertType]string{
	TypeDrugInteraction: "Drug Interactions",
	TypeDrugAllergy:     "Allergy Alerts",
	TypeDosageRange:     "Dosage Warnings",
	TypeDuplicateOrder:  "Duplicate Orders",
	TypeFormulary:       "Formulary",
	TypeGuideline:       "Clinical Guidelines",
}

// CategoryLabel returns the display label for t, or OtherCategory.
func CategoryLabel(t AlertType) string {
	if label, ok := categoryLabels[t]; ok {
		return label
	}
	return OtherCategory
}

// GroupByCategory partitions alerts by category label, preserving relative
// order inside each category.
func GroupByCategory(alerts []*Alert) map[string][]*Alert {
	groups := make(map[string][]*Alert)
	for _, a := range alerts {
		label := CategoryLabel(a.Type)
		groups[label] = append(groups[label], a)
	}
	return groups
}
