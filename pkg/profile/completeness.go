package profile

// MissingFields returns the required fields that are not present, in
// declaration order.
func MissingFields(p ProjectProfile) []Field {
	missing := make([]Field, 0, len(RequiredFields))
	for _, f := range RequiredFields {
		if !p.IsPresent(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

func IsComplete(p ProjectProfile) bool {
	return len(MissingFields(p)) == 0
}

// NextMissing is the single field to ask about next.
func NextMissing(p ProjectProfile) (Field, bool) {
	missing := MissingFields(p)
	if len(missing) == 0 {
		return "", false
	}
	return missing[0], true
}

func FieldNames(fields []Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = string(f)
	}
	return names
}
