package profile

// Merge overlays the present fields of extracted onto p and returns the
// result. Absent values in extracted never replace what p already has.
// DocumentsUploaded is sticky once set.
func Merge(p, extracted ProjectProfile) ProjectProfile {
	out := p.Clone()

	if extracted.IsPresent(FieldLocation) {
		out.Location = extracted.Value(FieldLocation)
	}
	if extracted.IsPresent(FieldProjectType) {
		out.ProjectType = extracted.Value(FieldProjectType)
	}
	if extracted.IsPresent(FieldOutcomes) {
		out.Outcomes = cleanOutcomes(extracted.Outcomes)
	}
	if extracted.IsPresent(FieldBudget) {
		out.Budget = extracted.Value(FieldBudget)
	}
	if extracted.IsPresent(FieldCapacity) {
		out.Capacity = extracted.Value(FieldCapacity)
	}
	out.DocumentsUploaded = p.DocumentsUploaded || extracted.DocumentsUploaded

	return out
}

// Changed lists the fields whose rendered value differs between before and
// after, in declaration order.
func Changed(before, after ProjectProfile) []Field {
	var changed []Field
	for _, f := range RequiredFields {
		if before.Value(f) != after.Value(f) {
			changed = append(changed, f)
		}
	}
	return changed
}
