package labeler

// GroupRhetoric collects the persuasion-strategy sub-categories.
const GroupRhetoric = "rhetoric"

// DefaultCategories returns the headline taxonomy: topic, tone and frame plus
// the four rhetorical strategy axes, each with its hypothesis template.
func DefaultCategories() []LabelCategory {
	return []LabelCategory{
		{
			Name:     "topic",
			Labels:   []string{"Economy", "Foreign Policy", "Human Rights", "Environment", "Security", "Technology", "EU Governance"},
			Template: "This text is about {label}.",
		},
		{
			Name:     "tone",
			Labels:   []string{"Neutral", "Urgent", "Optimistic", "Conflict-Oriented", "Critical", "Supportive"},
			Template: "The tone of this text is {label}.",
		},
		{
			Name:     "frame",
			Labels:   []string{"Humanitarian", "Security", "Legalistic", "Economic", "Nationalist", "Technocratic"},
			Template: "This text uses a {label} frame.",
		},
		{
			Name:  "appeal_types",
			Group: GroupRhetoric,
			Labels: []string{
				"Expert Authority", "Institutional Authority", "Moral Authority",
				"Experiential Authority", "Consensus Authority", "Appeal to Fear",
				"Appeal to Empathy", "Appeal to Pride", "Appeal to Guilt", "Appeal to Hope",
			},
			Template: "This text uses {label} as a persuasion technique.",
		},
		{
			Name:  "reasoning_types",
			Group: GroupRhetoric,
			Labels: []string{
				"Causal Reasoning", "Conditional Reasoning", "Analogical Reasoning",
				"Statistical Reasoning", "Historical Precedent",
			},
			Template: "This text employs {label} in its argument.",
		},
		{
			Name:  "fallacy_types",
			Group: GroupRhetoric,
			Labels: []string{
				"False Dichotomy", "Slippery Slope", "Ad Hominem", "Post Hoc Fallacy",
				"Straw Man", "Hasty Generalization",
			},
			Template: "This text contains the {label} fallacy.",
		},
		{
			Name:  "framing_techniques",
			Group: GroupRhetoric,
			Labels: []string{
				"Metaphorical Framing", "Episodic Framing", "Thematic Framing",
				"Value Framing", "Risk Framing", "Reward Framing",
			},
			Template: "This text uses {label} to present the issue.",
		},
	}
}

// FilterCategories keeps the categories whose name or group is listed.
// An empty selection keeps everything.
func FilterCategories(categories []LabelCategory, selection []string) []LabelCategory {
	if len(selection) == 0 {
		return categories
	}
	want := make(map[string]struct{}, len(selection))
	for _, s := range selection {
		want[s] = struct{}{}
	}
	out := make([]LabelCategory, 0, len(categories))
	for _, cat := range categories {
		_, byName := want[cat.Name]
		_, byGroup := want[cat.Group]
		if byName || (cat.Group != "" && byGroup) {
			out = append(out, cat)
		}
	}
	return out
}
