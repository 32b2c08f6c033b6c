package pipeline

// join emits one row per (identifier, index) pair whose record and design are
// both available, grouped by identifier in input order. The OverallDesign of
// each record is filled in here, once.
func join(ids []Identifier, resolved map[Identifier][]DatasetIndex, records map[DatasetIndex]DatasetRecord, designs map[AccessionCode]string) []EnrichedRow {
	for idx, rec := range records {
		if design, ok := designs[NormalizeAccession(rec.AccessionCode)]; ok {
			d := design
			rec.OverallDesign = &d
			records[idx] = rec
		}
	}

	type pair struct {
		id  Identifier
		idx DatasetIndex
	}
	seen := make(map[pair]struct{})
	rows := make([]EnrichedRow, 0)

	for _, id := range ids {
		indices, ok := resolved[id]
		if !ok {
			continue
		}
		for _, idx := range indices {
			key := pair{id, idx}
			if _, dup := seen[key]; dup {
				continue
			}
			rec, ok := records[idx]
			if !ok || rec.OverallDesign == nil {
				continue
			}
			seen[key] = struct{}{}
			rows = append(rows, EnrichedRow{
				Identifier:     id,
				DatasetIndex:   idx,
				Title:          rec.Title,
				Summary:        rec.Summary,
				OverallDesign:  *rec.OverallDesign,
				ExperimentType: rec.ExperimentType,
				AccessionCode:  rec.AccessionCode,
				Organism:       rec.Organism,
			})
		}
	}
	return rows
}
