package entities

// Aggregate merges entities extracted from the email body and from each
// attachment into one per-document EntitySet.
//
// The body is scanned first, then attachments in order. For scalar types the
// first value that survives normalization wins; later values for the same
// type are ignored, having lost the within-document first-value
// race. Container numbers are the exception: every distinct normalized
// value across all sources is kept.
//
// Values that fail normalization never enter the set; they come back as
// Rejections for the audit log.
func Aggregate(body []RawEntity, attachments [][]RawEntity) (EntitySet, []Rejection) {
	set := NewEntitySet()
	var rejections []Rejection
	seenContainers := make(map[string]bool)

	sources := make([][]RawEntity, 0, len(attachments)+1)
	sources = append(sources, body)
	sources = append(sources, attachments...)

	for _, source := range sources {
		for _, raw := range source {
			if raw.Value == "" {
				continue
			}

			normalized, err := NormalizeValue(raw.Type, raw.Value)
			if err != nil {
				rejections = append(rejections, Rejection{
					Type:     raw.Type,
					RawValue: raw.Value,
					Reason:   err.Error(),
				})
				continue
			}

			if raw.Type == TypeContainerNumber {
				if !seenContainers[normalized] {
					seenContainers[normalized] = true
					set.Containers = append(set.Containers, normalized)
				}
				continue
			}

			if _, exists := set.Scalars[raw.Type]; !exists {
				set.Scalars[raw.Type] = normalized
			}
		}
	}

	return set, rejections
}
