package cds

// DefaultActiveOrderStatuses are the order statuses that count as still open
// for duplicate detection.
var DefaultActiveOrderStatuses = []string{"Ordered", "Specimen Collected", "In Progress"}

const allergyRecommendation = "Do NOT administer. Consider alternative medication class."

var metforminTokens = []string{"metformin", "glucophage", "janumet", "glucovance"}

// DefaultCatalog returns the built-in rules. Each call returns a fresh slice.
func DefaultCatalog() Catalog {
	c := Catalog{
		AllergyRule{
			Severity:       SeverityContraindicated,
			Recommendation: allergyRecommendation,
			Classes: []AllergyClass{
				{Names: []string{"penicillin", "pcn"}, Tokens: []string{"penicillin", "amoxicillin", "ampicillin", "piperacillin", "nafcillin", "oxacillin", "dicloxacillin", "augmentin"}},
				{Names: []string{"cephalosporin"}, Tokens: []string{"cephalexin", "cefazolin", "ceftriaxone", "cefuroxime", "cefdinir", "cefepime", "keflex"}},
				{Names: []string{"sulfa", "sulfonamide"}, Tokens: []string{"sulfamethoxazole", "sulfasalazine", "sulfadiazine", "bactrim", "septra"}},
				{Names: []string{"nsaid"}, Tokens: []string{"ibuprofen", "naproxen", "diclofenac", "ketorolac", "celecoxib", "meloxicam", "indomethacin", "aspirin"}},
				{Names: []string{"macrolide"}, Tokens: []string{"erythromycin", "azithromycin", "clarithromycin"}},
				{Names: []string{"fluoroquinolone", "quinolone"}, Tokens: []string{"ciprofloxacin", "levofloxacin", "moxifloxacin", "ofloxacin"}},
				{Names: []string{"codeine", "opioid", "opiate"}, Tokens: []string{"codeine", "morphine", "hydrocodone", "oxycodone", "hydromorphone", "tramadol"}},
				{Names: []string{"iodine", "contrast"}, Tokens: []string{"iohexol", "iodixanol", "iopamidol", "contrast"}},
				{Names: []string{"ace inhibitor"}, Tokens: []string{"lisinopril", "enalapril", "ramipril", "captopril", "benazepril"}},
			},
		},
	}
	c = append(c, defaultInteractions()...)
	c = append(c,
		DosageRule{
			Token:          "simvastatin",
			CeilingMg:      80,
			Message:        "80mg simvastatin carries an increased risk of myopathy.",
			Recommendation: "Reduce to simvastatin 40mg daily or switch to atorvastatin.",
		},
		DosageRule{
			Token:          "methotrexate",
			CeilingMg:      30,
			Message:        "dose exceeds the usual weekly ceiling for inflammatory disease.",
			Recommendation: "Confirm once-weekly dosing and reduce to 25mg per week or less.",
		},
		DosageRule{
			Token:          "digoxin",
			CeilingMg:      0.375,
			Message:        "dose exceeds the usual daily maintenance range.",
			Recommendation: "Reduce to 0.125mg to 0.25mg daily and check a serum digoxin level.",
		},
		ControlledSubstanceRule{
			Tokens: []string{
				"oxycodone", "hydrocodone", "morphine", "fentanyl", "hydromorphone", "methadone", "tramadol", "codeine",
				"alprazolam", "lorazepam", "diazepam", "clonazepam", "temazepam",
				"amphetamine", "adderall", "methylphenidate", "zolpidem", "pregabalin", "testosterone",
			},
		},
		DuplicateOrderRule{ActiveStatuses: DefaultActiveOrderStatuses},
		ContrastImagingRule{
			ImagingTokens: []string{
				"contrast", "ct scan", "ct angio", "cta ", "angiogra", "x-ray", "xray",
				"mri", "fluoroscop", "pyelogra", "myelogra", "venogra",
			},
			MetforminTokens: metforminTokens,
		},
	)
	return c
}

func defaultInteractions() []Rule {
	return []Rule{
		InteractionRule{
			ID:             "anticoagulant-antiplatelet",
			Subject:        []string{"warfarin", "coumadin", "apixaban", "eliquis", "rivaroxaban", "xarelto", "dabigatran", "heparin", "enoxaparin"},
			Interacting:    []string{"aspirin", "clopidogrel", "plavix", "prasugrel", "ticagrelor", "ibuprofen", "naproxen", "diclofenac", "ketorolac"},
			Severity:       SeverityMajor,
			Title:          "Drug Interaction: Bleeding Risk",
			Message:        "combined anticoagulant and antiplatelet/NSAID therapy increases bleeding risk.",
			Recommendation: "Monitor INR and watch for signs of bleeding; add gastroprotection or choose an alternative agent.",
		},
		InteractionRule{
			ID:             "contrast-metformin",
			Subject:        metforminTokens,
			Interacting:    []string{"contrast", "iohexol", "iodixanol", "iopamidol", "ioversol"},
			Severity:       SeverityMajor,
			Title:          "Drug Interaction: Lactic Acidosis",
			Message:        "iodinated contrast with metformin raises the risk of lactic acidosis.",
			Recommendation: "Hold metformin for 48 hours after contrast and recheck renal function before restarting.",
		},
		InteractionRule{
			ID:             "opioid-benzodiazepine",
			Subject:        []string{"oxycodone", "hydrocodone", "morphine", "fentanyl", "hydromorphone", "codeine", "tramadol", "methadone"},
			Interacting:    []string{"alprazolam", "lorazepam", "diazepam", "clonazepam", "midazolam", "temazepam"},
			Severity:       SeverityMajor,
			Title:          "Drug Interaction: Respiratory Depression",
			Message:        "concurrent opioid and benzodiazepine use can cause profound sedation and respiratory depression.",
			Recommendation: "Avoid the combination; if unavoidable use the lowest effective doses, limit duration and co-prescribe naloxone.",
		},
		InteractionRule{
			ID:             "statin-cyp3a4",
			Subject:        []string{"simvastatin", "lovastatin", "atorvastatin"},
			Interacting:    []string{"clarithromycin", "erythromycin", "itraconazole", "ketoconazole", "ritonavir", "diltiazem", "verapamil"},
			Severity:       SeverityMajor,
			Title:          "Drug Interaction: Statin Myopathy",
			Message:        "CYP3A4 inhibition raises statin exposure and the risk of myopathy and rhabdomyolysis.",
			Recommendation: "Switch to pravastatin or rosuvastatin, or suspend the statin for the course of the inhibitor.",
		},
		InteractionRule{
			ID:             "serotonin-syndrome",
			Subject:        []string{"sertraline", "fluoxetine", "paroxetine", "citalopram", "escitalopram", "venlafaxine", "duloxetine"},
			Interacting:    []string{"tramadol", "linezolid", "phenelzine", "selegiline", "sumatriptan", "meperidine", "methylene blue", "st. john"},
			Severity:       SeverityMajor,
			Title:          "Drug Interaction: Serotonin Syndrome",
			Message:        "combined serotonergic agents increase the risk of serotonin syndrome.",
			Recommendation: "Avoid the combination or monitor closely for agitation, hyperthermia and clonus.",
		},
		InteractionRule{
			ID:             "hyperkalemia",
			Subject:        []string{"spironolactone", "eplerenone", "amiloride", "triamterene", "potassium chloride"},
			Interacting:    []string{"lisinopril", "enalapril", "ramipril", "captopril", "benazepril", "losartan", "valsartan", "irbesartan", "candesartan", "olmesartan"},
			Severity:       SeverityModerate,
			Title:          "Drug Interaction: Hyperkalemia",
			Message:        "potassium-sparing agent with ACE inhibitor/ARB causes additive potassium retention.",
			Recommendation: "Check serum potassium and renal function within one week and periodically thereafter.",
		},
		InteractionRule{
			ID:             "qt-prolongation",
			Subject:        []string{"amiodarone", "sotalol", "haloperidol", "methadone", "ondansetron"},
			Interacting:    []string{"azithromycin", "clarithromycin", "erythromycin", "levofloxacin", "ciprofloxacin", "moxifloxacin", "citalopram", "escitalopram"},
			Severity:       SeverityMajor,
			Title:          "Drug Interaction: QT Prolongation",
			Message:        "additive QT prolongation increases the risk of torsades de pointes.",
			Recommendation: "Obtain a baseline ECG and electrolytes; prefer an agent that does not prolong the QT interval.",
		},
		InteractionRule{
			ID:             "digoxin-toxicity",
			Subject:        []string{"digoxin"},
			Interacting:    []string{"amiodarone", "verapamil", "quinidine", "clarithromycin", "dronedarone"},
			Severity:       SeverityMajor,
			Title:          "Drug Interaction: Digoxin Toxicity",
			Message:        "the combination raises serum digoxin concentrations.",
			Recommendation: "Reduce the digoxin dose by 30 to 50 percent and monitor serum digoxin levels.",
		},
	}
}
